package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// commandRunner executes an external program and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w, output: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// PactlAudio drives a PulseAudio/PipeWire sink through the pactl CLI.
type PactlAudio struct {
	binary string
	sink   string
	run    commandRunner
	logger *slog.Logger
}

// NewPactlAudio creates a pactl-backed endpoint for sink.
func NewPactlAudio(binary, sink string, logger *slog.Logger) *PactlAudio {
	return &PactlAudio{
		binary: binary,
		sink:   sink,
		run:    execRunner,
		logger: logger,
	}
}

// "Volume: front-left: 32768 /  50% / -18.06 dB,   front-right: ..."
var pactlVolumeRe = regexp.MustCompile(`(\d+)\s*/\s*\d+%`)

func (p *PactlAudio) Volume(ctx context.Context) (float64, error) {
	out, err := p.run(ctx, p.binary, "get-sink-volume", p.sink)
	if err != nil {
		return 0, err
	}
	return parsePactlVolume(string(out))
}

func parsePactlVolume(out string) (float64, error) {
	m := pactlVolumeRe.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("unexpected pactl volume output: %q", strings.TrimSpace(out))
	}
	raw, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("parse pactl volume %q: %w", m[1], err)
	}
	return clampFraction(float64(raw) / pulseVolumeNorm), nil
}

func (p *PactlAudio) SetVolume(ctx context.Context, fraction float64) error {
	raw := int(math.Round(clampFraction(fraction) * pulseVolumeNorm))
	_, err := p.run(ctx, p.binary, "set-sink-volume", p.sink, strconv.Itoa(raw))
	if err == nil {
		p.logger.Debug("pactl set-sink-volume", "sink", p.sink, "raw", raw)
	}
	return err
}

func (p *PactlAudio) Muted(ctx context.Context) (bool, error) {
	out, err := p.run(ctx, p.binary, "get-sink-mute", p.sink)
	if err != nil {
		return false, err
	}
	return parsePactlMute(string(out))
}

func parsePactlMute(out string) (bool, error) {
	s := strings.TrimSpace(out)
	v, ok := strings.CutPrefix(s, "Mute:")
	if !ok {
		return false, fmt.Errorf("unexpected pactl mute output: %q", s)
	}
	switch strings.TrimSpace(v) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected pactl mute value: %q", v)
	}
}

func (p *PactlAudio) SetMuted(ctx context.Context, muted bool) error {
	arg := "0"
	if muted {
		arg = "1"
	}
	_, err := p.run(ctx, p.binary, "set-sink-mute", p.sink, arg)
	return err
}
