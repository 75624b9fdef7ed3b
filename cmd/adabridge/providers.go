package main

import "context"

// ============================================================================
// Capability Providers
// ============================================================================
// The command dispatcher and status reporter only see these interfaces.
// Concrete adapters live in audio_*.go, media_*.go and power*.go.
// ============================================================================

// AudioEndpoint controls the default output device.
// Volume is a fraction in [0.0, 1.0].
type AudioEndpoint interface {
	Volume(ctx context.Context) (float64, error)
	SetVolume(ctx context.Context, fraction float64) error
	Muted(ctx context.Context) (bool, error)
	SetMuted(ctx context.Context, muted bool) error
}

// MediaSessions finds the system's current media session.
// ok is false when no session exists; that is not an error.
type MediaSessions interface {
	CurrentSession(ctx context.Context) (session MediaSession, ok bool, err error)
}

// MediaSession is a single player's transport and metadata.
type MediaSession interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	PlaybackStatus(ctx context.Context) (ProviderPlayback, error)
	Info(ctx context.Context) (MediaInfo, error)
}

// PowerControl shuts the host down.
type PowerControl interface {
	Shutdown(ctx context.Context) error
}

// ProviderPlayback is the provider-side tri-state playback status.
type ProviderPlayback int

const (
	ProviderPlaybackOther ProviderPlayback = iota
	ProviderPlaybackPlaying
	ProviderPlaybackPaused
)

func (p ProviderPlayback) String() string {
	switch p {
	case ProviderPlaybackPlaying:
		return "playing"
	case ProviderPlaybackPaused:
		return "paused"
	default:
		return "other"
	}
}

// MediaInfo is the subset of track metadata used for presence checks.
type MediaInfo struct {
	Title  string
	Artist string
	Album  string
}

// clampFraction bounds a volume fraction to [0, 1].
func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
