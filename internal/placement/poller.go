package placement

import (
	"context"

	"github.com/sedimark/catalogue-coordinator/internal/ledger"
	"github.com/sedimark/catalogue-coordinator/internal/logging"
	"github.com/sedimark/catalogue-coordinator/internal/workerpool"
)

// Poller is the placement half of the scheduling model in §5: on each
// tick it lists the ledger's offerings, filters out ones already handed
// to the pool, and submits the rest for processing.
type Poller struct {
	ledger *ledger.Client
	driver *Driver
	pool   *workerpool.Pool
	logger *logging.Logger
}

// NewPoller constructs a Poller.
func NewPoller(ledgerClient *ledger.Client, driver *Driver, pool *workerpool.Pool, logger *logging.Logger) *Poller {
	return &Poller{ledger: ledgerClient, driver: driver, pool: pool, logger: logger}
}

// PollOnce runs a single poll cycle.
func (p *Poller) PollOnce(ctx context.Context) {
	ids, err := p.ledger.ListOfferingIDs(ctx)
	if err != nil {
		p.logf("placement poll: ledger discovery failed: %v", err)
		return
	}

	fresh := p.driver.FilterNew(ids)
	for _, id := range fresh {
		meta, err := p.ledger.GetOfferingMeta(ctx, id)
		if err != nil {
			p.logf("placement poll: metadata fetch for %s failed: %v", id, err)
			continue
		}
		p.pool.SubmitOfferingProcessing(p.driver, id, meta)
	}
}

func (p *Poller) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Infof(format, args...)
}
