package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// PlaybackState is the protocol-side playback status.
type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "PLAYING"
	PlaybackPaused  PlaybackState = "PAUSED"
	PlaybackStopped PlaybackState = "STOPPED"
)

// playbackStateFrom collapses the provider tri-state; anything that is not
// playing or paused reports as stopped.
func playbackStateFrom(p ProviderPlayback) PlaybackState {
	switch p {
	case ProviderPlaybackPlaying:
		return PlaybackPlaying
	case ProviderPlaybackPaused:
		return PlaybackPaused
	default:
		return PlaybackStopped
	}
}

// StatusSnapshot is one immutable status report.
type StatusSnapshot struct {
	CurrentVolume float64        `json:"currentVolume"`
	IsMuted       bool           `json:"isMuted"`
	On            bool           `json:"on"`
	PlaybackState *PlaybackState `json:"playbackState,omitempty"`
}

// Publisher is the outbound side of the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// StatusMirror receives every published snapshot for local observers.
// Implementations must not block.
type StatusMirror interface {
	PublishStatus(snap StatusSnapshot)
}

// StatusReporter is what command handlers and the event loop call to report.
type StatusReporter interface {
	Report(ctx context.Context) error
}

var errNoPublisher = errors.New("no publisher configured")

// Reporter assembles snapshots from the capability providers and publishes them.
type Reporter struct {
	audio     AudioEndpoint
	media     MediaSessions
	publisher Publisher
	topic     string
	mirror    StatusMirror
	logger    *slog.Logger
}

// NewReporter constructs a Reporter. publisher and mirror may be nil.
func NewReporter(audio AudioEndpoint, media MediaSessions, publisher Publisher, topic string, mirror StatusMirror, logger *slog.Logger) *Reporter {
	return &Reporter{
		audio:     audio,
		media:     media,
		publisher: publisher,
		topic:     topic,
		mirror:    mirror,
		logger:    logger,
	}
}

// Snapshot reads current truth from the providers.
func (r *Reporter) Snapshot(ctx context.Context) (StatusSnapshot, error) {
	vol, err := r.audio.Volume(ctx)
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("read volume: %w", err)
	}
	muted, err := r.audio.Muted(ctx)
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("read mute: %w", err)
	}

	snap := StatusSnapshot{
		CurrentVolume: volumePercent(vol),
		IsMuted:       muted,
		On:            true,
	}
	if state, ok := r.playbackState(ctx); ok {
		snap.PlaybackState = &state
	}
	return snap, nil
}

// playbackState reports ok=false when there is no session, or the session
// has no readable metadata.
func (r *Reporter) playbackState(ctx context.Context) (PlaybackState, bool) {
	if r.media == nil {
		return "", false
	}
	session, ok, err := r.media.CurrentSession(ctx)
	if err != nil {
		r.logger.Debug("media session lookup failed", "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	if _, err := session.Info(ctx); err != nil {
		r.logger.Debug("media info unavailable", "error", err)
		return "", false
	}
	status, err := session.PlaybackStatus(ctx)
	if err != nil {
		r.logger.Debug("playback status unavailable", "error", err)
		return PlaybackStopped, true
	}
	return playbackStateFrom(status), true
}

// Report publishes a fresh snapshot to the status topic and, once the
// publish succeeds, hands it to the mirror.
func (r *Reporter) Report(ctx context.Context) error {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if r.publisher == nil {
		return errNoPublisher
	}
	if err := r.publisher.Publish(ctx, r.topic, statusQoS, false, payload); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	r.logger.Debug("status published", "topic", r.topic, "volume", snap.CurrentVolume, "muted", snap.IsMuted)

	if r.mirror != nil {
		r.mirror.PublishStatus(snap)
	}
	return nil
}

// volumePercent converts a fraction to a percentage rounded to 0.1.
func volumePercent(fraction float64) float64 {
	return math.Round(clampFraction(fraction)*1000) / 10
}
