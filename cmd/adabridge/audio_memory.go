package main

import (
	"context"
	"sync"
)

// MemoryAudio keeps volume and mute in process. It backs the "memory" audio
// backend (dry runs on hosts without a sound server) and the tests.
type MemoryAudio struct {
	mu     sync.Mutex
	volume float64
	muted  bool

	setVolumeCalls int
	setMutedCalls  int
}

// NewMemoryAudio starts at the given volume fraction, unmuted.
func NewMemoryAudio(initial float64) *MemoryAudio {
	return &MemoryAudio{volume: clampFraction(initial)}
}

func (m *MemoryAudio) Volume(context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume, nil
}

func (m *MemoryAudio) SetVolume(_ context.Context, fraction float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = clampFraction(fraction)
	m.setVolumeCalls++
	return nil
}

func (m *MemoryAudio) Muted(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted, nil
}

func (m *MemoryAudio) SetMuted(_ context.Context, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	m.setMutedCalls++
	return nil
}

// mutations reports how many setter calls have been made.
func (m *MemoryAudio) mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setVolumeCalls + m.setMutedCalls
}
