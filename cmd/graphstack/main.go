// Command graphstack opens the environment-selected storage engine, runs a
// short save/fetch cycle against it, and can optionally keep serving metrics
// over HTTP for inspection.
package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"graphstack/internal/engine"
	"graphstack/internal/infra/archive"
	"graphstack/pkg/graph"
)

var exitFunc = os.Exit

func main() {
	serveAddr := flag.String("serve", "", "address to serve /metrics and /debug/vars on after the smoke cycle (empty = exit)")
	flag.Parse()

	if err := run(*serveAddr); err != nil {
		fmt.Fprintf(os.Stderr, "graphstack: %v\n", err)
		exitFunc(1)
	}
}

func run(serveAddr string) error {
	ctx := context.Background()

	archiveStore, err := archive.Open(ctx)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	storage, err := engine.OpenStorageEngine(archiveStore)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer closeStorage(storage)

	// expvar names are process-global and Publish panics on reuse, so the
	// recorder generates its own unique name.
	metrics := engine.NewExpvarMetricsRecorder("")
	stack := engine.NewStack(storage,
		engine.WithMetrics(metrics),
		engine.WithTracer(engine.NewJSONTracer(os.Stderr)),
	)
	defer stack.Close()

	if err := smoke(stack); err != nil {
		return err
	}
	fmt.Println("graphstack: smoke cycle ok")

	if serveAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())
	srv := &http.Server{Addr: serveAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	fmt.Printf("graphstack: serving on %s\n", serveAddr)
	return srv.ListenAndServe()
}

// smoke writes one entity through a background context, saves it to the
// store, and fetches it back through the main context.
func smoke(stack *engine.Stack) error {
	bg := stack.ContextFor("smoke")
	id, err := bg.Insert("smoke_check", map[string]any{
		"ran_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if err := bg.SaveAndWait(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	entities, err := stack.Main().FetchAndWait(graph.FetchRequest{Kind: "smoke_check"})
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if len(entities) == 0 {
		return fmt.Errorf("fetch returned no entities (inserted %s)", id)
	}
	return nil
}

func closeStorage(s graph.StorageEngine) {
	if closer, ok := s.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
