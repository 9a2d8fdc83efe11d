// Package main serves internal/fakenode over HTTP: a standalone
// catalogue-node test double exposing /test, /manager, and /sparql, for
// test/integration and for manual exploration. The Coordinator binary
// (cmd/coordinator) never starts or depends on this process.
//
// Configuration:
//   - FAKENODE_LISTEN: listen address (default ":3030")
//
// Example usage:
//
//	FAKENODE_LISTEN=:3030 ./fakenode
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sedimark/catalogue-coordinator/internal/fakenode"
)

func main() {
	listen := getenv("FAKENODE_LISTEN", ":3030")

	node := fakenode.New()
	srv := &http.Server{
		Addr:              listen,
		Handler:           node.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("fakenode listening on %s", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("fakenode stopped")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
