package main

import (
	"context"
	"log/slog"
)

// ============================================================================
// Command Dispatcher
// ============================================================================
// Each CommandKind has exactly one handler. A handler validates its params,
// performs the side effect and, if the effect happened, asks the reporter for
// one status report. Failures are logged here and never escape to the loop.
// ============================================================================

// Outcome describes what Dispatch did with a command.
type Outcome int

const (
	// OutcomeIgnored: unknown command or nothing to act on.
	OutcomeIgnored Outcome = iota
	// OutcomeRejected: required parameter missing or of the wrong type.
	OutcomeRejected
	// OutcomeApplied: side effect performed and status reported.
	OutcomeApplied
	// OutcomeFailed: the provider call failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRejected:
		return "rejected"
	case OutcomeApplied:
		return "applied"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type commandHandler func(d *Dispatcher, ctx context.Context, cmd InboundCommand) Outcome

var commandHandlers = map[CommandKind]commandHandler{
	CommandSetVolume:      (*Dispatcher).handleSetVolume,
	CommandMute:           (*Dispatcher).handleMute,
	CommandVolumeRelative: (*Dispatcher).handleVolumeRelative,
	CommandMediaNext:      mediaHandler("next", MediaSession.Next),
	CommandMediaPrevious:  mediaHandler("previous", MediaSession.Previous),
	CommandMediaPause:     mediaHandler("pause", MediaSession.Pause),
	CommandMediaStop:      mediaHandler("pause", MediaSession.Pause),
	CommandMediaResume:    mediaHandler("play", MediaSession.Play),
	CommandOnOff:          (*Dispatcher).handleOnOff,
}

// Dispatcher routes commands to capability providers.
type Dispatcher struct {
	audio    AudioEndpoint
	media    MediaSessions
	power    PowerControl
	reporter StatusReporter
	logger   *slog.Logger
}

// NewDispatcher wires a dispatcher to its providers and reporter.
func NewDispatcher(audio AudioEndpoint, media MediaSessions, power PowerControl, reporter StatusReporter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		audio:    audio,
		media:    media,
		power:    power,
		reporter: reporter,
		logger:   logger,
	}
}

// Dispatch handles one command to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd InboundCommand) Outcome {
	h, ok := commandHandlers[cmd.Kind]
	if !ok {
		d.logger.Debug("ignoring unknown command", "command", cmd.Name)
		return OutcomeIgnored
	}
	out := h(d, ctx, cmd)
	d.logger.Debug("command handled", "command", cmd.Kind.String(), "outcome", out.String())
	return out
}

func (d *Dispatcher) report(ctx context.Context) {
	if err := d.reporter.Report(ctx); err != nil {
		d.logger.Warn("status report failed", "error", err)
	}
}

func (d *Dispatcher) handleSetVolume(ctx context.Context, cmd InboundCommand) Outcome {
	level, ok := cmd.Float("volumeLevel")
	if !ok {
		d.logger.Debug("setVolume: volumeLevel missing or not a number")
		return OutcomeRejected
	}
	target := clampFraction(level / 100)
	if err := d.audio.SetVolume(ctx, target); err != nil {
		d.logger.Warn("set volume failed", "target", target, "error", err)
		return OutcomeFailed
	}
	d.report(ctx)
	return OutcomeApplied
}

func (d *Dispatcher) handleMute(ctx context.Context, cmd InboundCommand) Outcome {
	mute, ok := cmd.Bool("mute")
	if !ok {
		d.logger.Debug("mute: mute missing or not a bool")
		return OutcomeRejected
	}
	if err := d.audio.SetMuted(ctx, mute); err != nil {
		d.logger.Warn("set mute failed", "mute", mute, "error", err)
		return OutcomeFailed
	}
	d.report(ctx)
	return OutcomeApplied
}

func (d *Dispatcher) handleVolumeRelative(ctx context.Context, cmd InboundCommand) Outcome {
	steps, ok := cmd.Float("relativeSteps")
	if !ok {
		d.logger.Debug("volumeRelative: relativeSteps missing or not a number")
		return OutcomeRejected
	}
	current, err := d.audio.Volume(ctx)
	if err != nil {
		d.logger.Warn("read volume failed", "error", err)
		return OutcomeFailed
	}
	target := clampFraction(current + steps/100)
	if err := d.audio.SetVolume(ctx, target); err != nil {
		d.logger.Warn("set volume failed", "target", target, "error", err)
		return OutcomeFailed
	}
	d.report(ctx)
	return OutcomeApplied
}

// mediaHandler builds a transport handler. With no current session the
// command is a no-op. With a session the transport call is fire-and-forget:
// its error is logged and status is still reported.
func mediaHandler(op string, call func(MediaSession, context.Context) error) commandHandler {
	return func(d *Dispatcher, ctx context.Context, cmd InboundCommand) Outcome {
		if d.media == nil {
			return OutcomeIgnored
		}
		session, ok, err := d.media.CurrentSession(ctx)
		if err != nil {
			d.logger.Warn("media session lookup failed", "command", cmd.Kind.String(), "error", err)
			return OutcomeFailed
		}
		if !ok {
			d.logger.Debug("no media session", "command", cmd.Kind.String())
			return OutcomeIgnored
		}
		if err := call(session, ctx); err != nil {
			d.logger.Debug("media transport request failed", "op", op, "error", err)
		}
		d.report(ctx)
		return OutcomeApplied
	}
}

// handleOnOff only acts on "off". The host is going down, so no status follows.
func (d *Dispatcher) handleOnOff(ctx context.Context, cmd InboundCommand) Outcome {
	on, ok := cmd.Bool("on")
	if !ok {
		d.logger.Debug("OnOff: on missing or not a bool")
		return OutcomeRejected
	}
	if on {
		return OutcomeIgnored
	}
	d.logger.Info("shutdown requested")
	if err := d.power.Shutdown(ctx); err != nil {
		d.logger.Error("shutdown failed", "error", err)
		return OutcomeFailed
	}
	return OutcomeApplied
}
