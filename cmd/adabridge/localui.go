package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// LocalUI turns local quit requests (signals, IPC "quit") into a single
// UIQuit on a one-slot channel. It never touches daemon state.
type LocalUI struct {
	out      chan UIMessage
	requests chan struct{}
	logger   *slog.Logger
}

// NewLocalUI creates the UI source with its single-slot output channel.
func NewLocalUI(logger *slog.Logger) *LocalUI {
	return &LocalUI{
		out:      make(chan UIMessage, 1),
		requests: make(chan struct{}, 1),
		logger:   logger,
	}
}

// Messages is the daemon-side receive end.
func (u *LocalUI) Messages() <-chan UIMessage { return u.out }

// RequestQuit asks for shutdown. It never blocks; repeated requests collapse.
func (u *LocalUI) RequestQuit() {
	select {
	case u.requests <- struct{}{}:
	default:
	}
}

// Run waits for SIGINT/SIGTERM or a quit request and delivers UIQuit.
func (u *LocalUI) Run(ctx context.Context) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case <-ctx.Done():
		return nil
	case sig := <-sigc:
		u.logger.Info("shutting down", "signal", sig.String())
	case <-u.requests:
		u.logger.Info("shutting down", "reason", "quit requested")
	}

	select {
	case u.out <- UIQuit:
	default:
	}
	return nil
}
