package workerpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sedimark/catalogue-coordinator/internal/cluster"
)

func TestSubmitAndResult(t *testing.T) {
	p := New(2, nil, nil)
	defer p.Stop(true)

	id := p.Submit(func(ctx context.Context) (any, error) {
		return 42, nil
	})

	v, err := p.Result(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
	if status := p.Status(id); status != "completed" {
		t.Errorf("expected completed, got %s", status)
	}
}

func TestSubmitFailure(t *testing.T) {
	p := New(2, nil, nil)
	defer p.Stop(true)

	id := p.Submit(func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := p.Result(context.Background(), id, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if status := p.Status(id); status != "failed" {
		t.Errorf("expected failed, got %s", status)
	}
}

func TestStatusNotFound(t *testing.T) {
	p := New(1, nil, nil)
	defer p.Stop(true)

	if status := p.Status("nonexistent"); status != "not_found" {
		t.Errorf("expected not_found, got %s", status)
	}
}

func TestCancelBeforeStartSucceeds(t *testing.T) {
	p := New(1, nil, nil)
	defer p.Stop(true)

	// Occupy the only worker so the next task stays queued.
	blocker := make(chan struct{})
	p.Submit(func(ctx context.Context) (any, error) {
		<-blocker
		return nil, nil
	})

	id := p.Submit(func(ctx context.Context) (any, error) {
		return "should not run", nil
	})

	if !p.Cancel(id) {
		t.Fatal("expected cancel to succeed while pending")
	}
	if status := p.Status(id); status != "cancelled" {
		t.Errorf("expected cancelled, got %s", status)
	}
	close(blocker)
}

func TestCancelAfterStartFails(t *testing.T) {
	p := New(1, nil, nil)
	defer p.Stop(true)

	started := make(chan struct{})
	finish := make(chan struct{})
	id := p.Submit(func(ctx context.Context) (any, error) {
		close(started)
		<-finish
		return nil, nil
	})
	<-started

	if p.Cancel(id) {
		t.Fatal("expected cancel to fail once task has started")
	}
	close(finish)
}

func TestSubmitBatchPreservesOrder(t *testing.T) {
	p := New(4, nil, nil)
	defer p.Stop(true)

	fns := []TaskFunc{
		func(ctx context.Context) (any, error) { return 1, nil },
		func(ctx context.Context) (any, error) { return 2, nil },
		func(ctx context.Context) (any, error) { return 3, nil },
	}
	ids := p.SubmitBatch(fns)
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	for i, id := range ids {
		v, err := p.Result(context.Background(), id, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != i+1 {
			t.Errorf("expected %d, got %v", i+1, v)
		}
	}
}

func TestWaitAll(t *testing.T) {
	p := New(4, nil, nil)
	defer p.Stop(true)

	id1 := p.Submit(func(ctx context.Context) (any, error) { return "a", nil })
	id2 := p.Submit(func(ctx context.Context) (any, error) { return nil, errors.New("bad") })

	results := p.WaitAll(context.Background(), time.Second)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[id1].Err != nil {
		t.Errorf("unexpected error for id1: %v", results[id1].Err)
	}
	if results[id2].Err == nil {
		t.Error("expected error for id2")
	}
}

func TestAutoCleanupTrimsOldestTerminal(t *testing.T) {
	p := New(4, nil, nil)
	defer p.Stop(true)

	var ids []string
	for i := 0; i < 5; i++ {
		id := p.Submit(func(ctx context.Context) (any, error) { return nil, nil })
		ids = append(ids, id)
		p.Result(context.Background(), id, time.Second)
		time.Sleep(time.Millisecond)
	}

	p.AutoCleanup(2)
	stats := p.Stats()
	if stats.Retained != 2 {
		t.Fatalf("expected 2 retained after cleanup, got %d", stats.Retained)
	}
	if p.Status(ids[0]) != "not_found" {
		t.Error("expected oldest task record to be dropped")
	}
	if p.Status(ids[len(ids)-1]) == "not_found" {
		t.Error("expected newest task record to survive cleanup")
	}
}

type fakePlacer struct {
	calls []string
}

func (f *fakePlacer) Process(ctx context.Context, id string, meta *cluster.OfferingMeta) (bool, error) {
	f.calls = append(f.calls, id)
	return true, nil
}

func TestSubmitOfferingProcessing(t *testing.T) {
	p := New(2, nil, nil)
	defer p.Stop(true)

	placer := &fakePlacer{}
	id := p.SubmitOfferingProcessing(placer, "offering-1", &cluster.OfferingMeta{ID: "offering-1"})

	v, err := p.Result(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != true {
		t.Errorf("expected true, got %v", v)
	}
	if len(placer.calls) != 1 || placer.calls[0] != "offering-1" {
		t.Errorf("expected placer called with offering-1, got %v", placer.calls)
	}
}

func TestSubmitBulkOfferingProcessing(t *testing.T) {
	p := New(2, nil, nil)
	defer p.Stop(true)

	placer := &fakePlacer{}
	items := []OfferingItem{
		{ID: "a", Meta: &cluster.OfferingMeta{ID: "a"}},
		{ID: "b", Meta: &cluster.OfferingMeta{ID: "b"}},
	}
	ids := p.SubmitBulkOfferingProcessing(placer, items)
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	for _, id := range ids {
		if _, err := p.Result(context.Background(), id, time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}
