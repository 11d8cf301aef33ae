package global

import (
	"context"
	"errors"
	"net/http"

	"PTracker/logger"
	"PTracker/tools/errs"

	"go.uber.org/zap"
)

// Run starts the background loops and the engine, serves HTTP until ctx is
// done, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	a.mu.Lock()
	starters := append([]func(context.Context){}, a.starters...)
	a.mu.Unlock()
	for _, fn := range starters {
		fn(ctx)
	}
	// one synchronous probe so the engine starts from a real observation
	a.Monitor.Check(ctx)

	if err := a.Engine.Start(ctx); err != nil {
		return errs.WrapMsg(err, "engine start")
	}

	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: a.Router}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", a.cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			return errs.WrapMsg(err, "http serve")
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownGrace)
	defer cancel()
	a.Hub.Close()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

// Close releases everything Bootstrap opened, newest first. Safe to call
// more than once.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	closers := a.closers
	a.mu.Unlock()

	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
