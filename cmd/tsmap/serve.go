package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/tsmap/internal/api"
	"github.com/banshee-data/tsmap/internal/db"
)

func handleServe(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBPath, "sqlite run catalogue")
	listen := fs.String("listen", "localhost:8080", "listen address")
	plots := fs.String("plots", "", "report directory to serve under /api/reports/")
	if err := fs.Parse(args); err != nil {
		return err
	}
	catalogue, err := db.NewDB(*dbPath)
	if err != nil {
		return err
	}
	defer catalogue.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	handler, err := newHandler(catalogue, *plots)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "serving %s on http://%s/api/runs\n", *dbPath, *listen)
	return serve(ctx, &http.Server{Addr: *listen, Handler: handler})
}

// newHandler mounts the catalogue API under /api/ and the debug pages
// under /debug/.
func newHandler(catalogue *db.DB, plots string) (http.Handler, error) {
	mux := http.NewServeMux()
	if err := catalogue.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	mux.Handle("/api/", http.StripPrefix("/api", api.NewServer(catalogue, plots).ServeMux()))
	return api.LoggingMiddleware(mux), nil
}

// serve runs server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, server *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}
