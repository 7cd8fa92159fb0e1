// Command rtdb-watch streams changes at a database location and writes each
// event to stdout as a JSON line. Run with:
//
//	go run ./cmd/rtdb-watch --database.url https://my-project.example-rtdb.com --stream.path /rooms
//
// Settings come from an optional config file (--config), RTDB_* environment
// variables and flags, in increasing order of precedence. With
// --metrics.listen set, prometheus metrics are served on /metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	rtdb "github.com/durable-streams/rtdb-go"
	"github.com/durable-streams/rtdb-go/internal/config"
	"github.com/durable-streams/rtdb-go/snapshot"
)

// Line is one line of output.
type Line struct {
	Type      string `json:"type"`
	StreamID  string `json:"streamId,omitempty"`
	Path      string `json:"path,omitempty"`
	Data      any    `json:"data,omitempty"`
	Restarts  int    `json:"restarts,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "rtdb-watch: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("rtdb-watch", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "config file (yaml, toml or json)")
	flags.String("database.url", "", "database URL")
	flags.String("database.auth", "", "auth token")
	flags.String("stream.path", "/", "location to watch")
	flags.Int("stream.auto_restart", 0, "reconnections allowed after failures, negative for unlimited")
	flags.Duration("stream.restart_delay", rtdb.DefaultRestartDelay, "pause before reconnecting")
	flags.Duration("stream.initial_timeout", rtdb.DefaultInitialTimeout, "wait for the first event")
	flags.String("snapshot.path", "", "bbolt file to keep the watched value in")
	flags.String("log.level", "info", "log level")
	flags.String("metrics.listen", "", "address to serve /metrics on")
	snapshotOut := flags.Bool("snapshot", false, "print the full value after each event instead of the event")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		return err
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	metrics, err := rtdb.NewMetrics(reg)
	if err != nil {
		return err
	}
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var store snapshot.Store = snapshot.NewMemoryStore()
	if cfg.Snapshot.Path != "" {
		if store, err = snapshot.OpenBoltStore(cfg.Snapshot.Path); err != nil {
			return err
		}
	}
	defer store.Close()

	opts := append(cfg.ClientOptions(), rtdb.WithLogger(logger), rtdb.WithMetrics(metrics))
	client := rtdb.NewClient(cfg.Database.URL, opts...)
	defer client.Close()

	ref := client.Ref(cfg.Stream.Path)
	tree, err := snapshot.NewTree(cfg.Database.URL+ref.Path(), store)
	if err != nil {
		return err
	}

	// Only the stream goroutine writes to out until the stream is done.
	out := json.NewEncoder(stdout)
	emit := func(ev rtdb.Event) error {
		line := Line{Type: string(ev.Type), StreamID: ev.StreamID, Path: ev.Path, Data: ev.Data}
		if *snapshotOut {
			line = Line{Type: "snapshot", StreamID: ev.StreamID, Path: "/", Data: tree.Value("/")}
		}
		return out.Encode(line)
	}

	s, err := ref.Stream(ctx, tree.Callback(emit),
		append(cfg.StreamOptions(), rtdb.WithExceptionHandler(retryTransient(logger)))...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("watching", zap.String("path", ref.Path()), zap.String("stream_id", s.ID()))

	select {
	case <-ctx.Done():
		return s.Close()
	case <-s.Done():
	}

	if err := s.Err(); err != nil {
		out.Encode(Line{
			Type:      "error",
			StreamID:  s.ID(),
			Restarts:  s.Restarts(),
			ErrorCode: errorCode(err),
			Message:   err.Error(),
		})
		return err
	}
	return nil
}

// retryTransient asks for a reconnect unless err shows that retrying cannot
// help.
func retryTransient(logger *zap.Logger) rtdb.ExceptionHandler {
	return func(s *rtdb.Stream, err error) bool {
		code := errorCode(err)
		switch code {
		case "UNAUTHORIZED", "NOT_FOUND", "CANCELLED", "AUTH_REVOKED":
			return false
		}
		logger.Warn("stream error",
			zap.String("stream_id", s.ID()),
			zap.String("code", code),
			zap.Error(err))
		return true
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, rtdb.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, rtdb.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, rtdb.ErrCancelled):
		return "CANCELLED"
	case errors.Is(err, rtdb.ErrAuthRevoked):
		return "AUTH_REVOKED"
	case errors.Is(err, rtdb.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, rtdb.ErrConnectionClosed):
		return "CONNECTION_CLOSED"
	case errors.Is(err, rtdb.ErrMalformedEvent), errors.Is(err, snapshot.ErrInvalidPatch):
		return "MALFORMED_EVENT"
	case errors.Is(err, rtdb.ErrCallbackPanic):
		return "CALLBACK_PANIC"
	}

	var streamErr *rtdb.StreamError
	if errors.As(err, &streamErr) && streamErr.StatusCode != 0 {
		return "UNEXPECTED_STATUS"
	}
	return "INTERNAL_ERROR"
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return srv
}
