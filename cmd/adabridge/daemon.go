package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// One goroutine owns the dispatcher, the reporter and every capability
// provider. Three sources feed it:
//   - ticks: periodic status reports
//   - inbound: raw command payloads from the bus (and IPC)
//   - ui: the local Quit signal
//
// Each event is handled to completion before the next select, so handlers
// never run concurrently and providers need no locking.
// ============================================================================

// InboundMessage is one raw command payload.
type InboundMessage struct {
	Topic   string
	Payload []byte
	Source  string // "mqtt" or "ipc"
}

// UIMessage is a signal from the local user interface.
type UIMessage int

const (
	// UIQuit asks the daemon loop to exit.
	UIQuit UIMessage = iota
)

// Daemon is the single-owner event loop.
type Daemon struct {
	dispatcher *Dispatcher
	reporter   StatusReporter
	inbound    <-chan InboundMessage
	ui         <-chan UIMessage
	logger     *slog.Logger
}

// NewDaemon wires the loop to its sources.
func NewDaemon(dispatcher *Dispatcher, reporter StatusReporter, inbound <-chan InboundMessage, ui <-chan UIMessage, logger *slog.Logger) *Daemon {
	return &Daemon{
		dispatcher: dispatcher,
		reporter:   reporter,
		inbound:    inbound,
		ui:         ui,
		logger:     logger,
	}
}

// Run publishes an initial report and then serves events until Quit is
// received, ctx is canceled or the inbound channel is closed.
func (d *Daemon) Run(ctx context.Context, ticks <-chan time.Time) error {
	d.report(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping (context canceled)")
			return nil

		case msg := <-d.ui:
			if msg == UIQuit {
				d.logger.Info("daemon stopping (quit)")
				return nil
			}

		case <-ticks:
			d.report(ctx)

		case msg, ok := <-d.inbound:
			if !ok {
				d.logger.Info("daemon stopping (inbound channel closed)")
				return nil
			}
			d.handleInbound(ctx, msg)
		}
	}
}

func (d *Daemon) handleInbound(ctx context.Context, msg InboundMessage) {
	cmd, err := ParseCommand(msg.Payload)
	if err != nil {
		d.logger.Warn("dropping malformed command", "source", msg.Source, "topic", msg.Topic, "error", err)
		return
	}
	d.dispatcher.Dispatch(ctx, cmd)
}

func (d *Daemon) report(ctx context.Context) {
	if err := d.reporter.Report(ctx); err != nil {
		d.logger.Warn("status report failed", "error", err)
	}
}
