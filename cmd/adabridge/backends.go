package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// providers bundles the capability adapters selected by configuration.
type providers struct {
	audio AudioEndpoint
	media MediaSessions
	power PowerControl

	closers []io.Closer
}

// Close releases every adapter that holds a connection.
func (p *providers) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildProviders constructs the audio, media and power adapters. withPower is
// false for one-shot commands that never shut the host down.
func buildProviders(ctx context.Context, cfg Config, withPower bool, logger *slog.Logger) (*providers, error) {
	p := &providers{}

	switch cfg.Audio.Backend {
	case "pactl":
		p.audio = NewPactlAudio(cfg.Audio.Pactl.Binary, cfg.Audio.Pactl.Sink, logger)
	case "camilladsp":
		cc := cfg.Audio.CamillaDSP
		client, err := NewCamillaDSPClient(ctx, cc.WsURL, cc.TimeoutMS, logger)
		if err != nil {
			return nil, fmt.Errorf("camilladsp: %w", err)
		}
		p.closers = append(p.closers, client)
		p.audio = NewCamillaAudio(client, cc.MinDB, cc.MaxDB)
	case "memory":
		p.audio = NewMemoryAudio(float64(volumeDefaultPercentage) / 100)
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Audio.Backend)
	}

	switch cfg.Media.Backend {
	case "mpris":
		m, err := NewMPRISSessions(cfg.Media.MPRIS.Player, logger)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("mpris: %w", err)
		}
		p.closers = append(p.closers, m)
		p.media = m
	case "none":
		p.media = NoMedia{}
	default:
		_ = p.Close()
		return nil, fmt.Errorf("unknown media backend %q", cfg.Media.Backend)
	}

	if !withPower {
		p.power = NewNoPower(logger)
		return p, nil
	}

	switch cfg.Power.Backend {
	case "logind":
		lp, err := NewLogindPower(logger)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("logind: %w", err)
		}
		p.closers = append(p.closers, lp)
		p.power = lp
	case "syscall":
		p.power = NewSyscallPower(logger)
	case "none":
		p.power = NewNoPower(logger)
	default:
		_ = p.Close()
		return nil, fmt.Errorf("unknown power backend %q", cfg.Power.Backend)
	}
	return p, nil
}
