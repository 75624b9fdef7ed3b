package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type publishedMessage struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// recordingPublisher captures every publish.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []publishedMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, publishedMessage{Topic: topic, QoS: qos, Retained: retained, Payload: append([]byte(nil), payload...)})
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func (p *recordingPublisher) last(t *testing.T) StatusSnapshot {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.msgs, "nothing published")
	var snap StatusSnapshot
	require.NoError(t, json.Unmarshal(p.msgs[len(p.msgs)-1].Payload, &snap))
	return snap
}

// fakeSession records transport calls.
type fakeSession struct {
	status    ProviderPlayback
	statusErr error
	info      MediaInfo
	infoErr   error
	callErr   error

	calls []string
}

func (s *fakeSession) record(op string) error {
	s.calls = append(s.calls, op)
	return s.callErr
}

func (s *fakeSession) Play(context.Context) error     { return s.record("play") }
func (s *fakeSession) Pause(context.Context) error    { return s.record("pause") }
func (s *fakeSession) Next(context.Context) error     { return s.record("next") }
func (s *fakeSession) Previous(context.Context) error { return s.record("previous") }

func (s *fakeSession) PlaybackStatus(context.Context) (ProviderPlayback, error) {
	return s.status, s.statusErr
}

func (s *fakeSession) Info(context.Context) (MediaInfo, error) {
	return s.info, s.infoErr
}

// fakeMedia returns session when non-nil.
type fakeMedia struct {
	session *fakeSession
	err     error
}

func (m *fakeMedia) CurrentSession(context.Context) (MediaSession, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	if m.session == nil {
		return nil, false, nil
	}
	return m.session, true, nil
}

func playingSession() *fakeSession {
	return &fakeSession{
		status: ProviderPlaybackPlaying,
		info:   MediaInfo{Title: "Song", Artist: "Band", Album: "Record"},
	}
}

// recordingPower counts shutdown requests.
type recordingPower struct {
	calls int
	err   error
}

func (p *recordingPower) Shutdown(context.Context) error {
	p.calls++
	return p.err
}

// failingAudio fails every call.
type failingAudio struct{}

var errAudioDown = errors.New("audio endpoint unavailable")

func (failingAudio) Volume(context.Context) (float64, error)  { return 0, errAudioDown }
func (failingAudio) SetVolume(context.Context, float64) error { return errAudioDown }
func (failingAudio) Muted(context.Context) (bool, error)      { return false, errAudioDown }
func (failingAudio) SetMuted(context.Context, bool) error     { return errAudioDown }

// testRig wires a dispatcher to in-memory providers.
type testRig struct {
	audio     *MemoryAudio
	media     *fakeMedia
	power     *recordingPower
	publisher *recordingPublisher
	reporter  *Reporter
	dispatch  *Dispatcher
}

func newTestRig(initialVolume float64) *testRig {
	r := &testRig{
		audio:     NewMemoryAudio(initialVolume),
		media:     &fakeMedia{},
		power:     &recordingPower{},
		publisher: &recordingPublisher{},
	}
	logger := testLogger()
	r.reporter = NewReporter(r.audio, r.media, r.publisher, "/ada/1/dev/status", nil, logger)
	r.dispatch = NewDispatcher(r.audio, r.media, r.power, r.reporter, logger)
	return r
}

// command builds an InboundCommand the way the wire would deliver it.
func command(t *testing.T, identifier string, params map[string]any) InboundCommand {
	t.Helper()
	payload, err := MarshalCommand(identifier, params)
	require.NoError(t, err)
	cmd, err := ParseCommand(payload)
	require.NoError(t, err)
	return cmd
}
