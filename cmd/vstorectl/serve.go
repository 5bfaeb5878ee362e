package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jilio/vstore"
	"github.com/jilio/vstore/devtools"
	"github.com/jilio/vstore/devtools/wsbridge"
	"github.com/jilio/vstore/persist"
	"github.com/jilio/vstore/storage/sqlite"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve NAME",
		Short: "Serve a persisted item to devtools over WebSocket",
		Long: `Load the persisted item NAME into a live store and expose it to inspection tools.

The devtools protocol is served at /devtools and the current state at /state.
Changes made from the tool (jumps, imports, __setState actions) are written
back to the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx, args[0])
		},
	}
	cmd.Flags().StringVar(&a.flags.Listen, "listen", "", "address to listen on (default 127.0.0.1:8787)")
	return cmd
}

func (a *app) runServe(ctx context.Context, name string) error {
	storage, err := a.openStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	b, err := a.newBridge(ctx, storage, name)
	if err != nil {
		return err
	}
	defer b.Close(context.Background())

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving store", "name", name, "addr", a.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// bridge is a live store backed by the database and mirrored to devtools.
type bridge struct {
	store    *vstore.Store[State]
	persist  *persist.Persist[State]
	devtools *devtools.Devtools[State]
	server   *wsbridge.Server
}

func (a *app) newBridge(ctx context.Context, storage *sqlite.Store, name string) (*bridge, error) {
	c, err := a.codec()
	if err != nil {
		return nil, err
	}
	version, err := storedVersion(ctx, storage, name, c)
	if err != nil {
		return nil, err
	}

	p, err := persist.New[State](
		persist.WithName[State](name),
		persist.WithStorage[State](storage),
		persist.WithCodec[State](c),
		persist.WithVersion[State](version),
		persist.WithLogger[State](a.logger),
	)
	if err != nil {
		return nil, err
	}

	server := wsbridge.NewServer(wsbridge.WithLogger(a.logger))
	server.Start()

	dt := devtools.New[State](server,
		devtools.WithName(name),
		devtools.WithLogger(a.logger),
	)
	store := vstore.Of(State{}, vstore.WithMiddleware(dt.Middleware, p.Middleware))

	return &bridge{store: store, persist: p, devtools: dt, server: server}, nil
}

// Handler routes the devtools WebSocket and the state endpoint.
func (b *bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/devtools", b.server)
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(b.store.GetState())
	})
	return mux
}

// Close disconnects devtools and waits for pending writes.
func (b *bridge) Close(ctx context.Context) error {
	return errors.Join(
		b.devtools.Close(),
		b.server.Close(),
		b.persist.Flush(ctx),
	)
}
