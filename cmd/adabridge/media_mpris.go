package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

// MPRIS2 names on the session bus.
const (
	mprisBusPrefix   = "org.mpris.MediaPlayer2."
	mprisObjectPath  = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"

	dbusListNames     = "org.freedesktop.DBus.ListNames"
	dbusPropertiesGet = "org.freedesktop.DBus.Properties.Get"
)

var errNoMetadata = errors.New("media session has no metadata")

// MPRISSessions finds media players on the D-Bus session bus.
type MPRISSessions struct {
	conn      *dbus.Conn
	preferred string
	logger    *slog.Logger
}

// NewMPRISSessions connects to the session bus. preferred, if set, selects a
// player by bus name suffix (e.g. "spotify").
func NewMPRISSessions(preferred string, logger *slog.Logger) (*MPRISSessions, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return &MPRISSessions{conn: conn, preferred: preferred, logger: logger}, nil
}

// CurrentSession picks the preferred player if running, else the first one
// that is playing, else the first one by name.
func (m *MPRISSessions) CurrentSession(ctx context.Context) (MediaSession, bool, error) {
	var names []string
	if err := m.conn.BusObject().CallWithContext(ctx, dbusListNames, 0).Store(&names); err != nil {
		return nil, false, fmt.Errorf("list bus names: %w", err)
	}
	players := mprisPlayers(names)
	if len(players) == 0 {
		return nil, false, nil
	}

	if name, ok := matchPreferredPlayer(players, m.preferred); ok {
		return m.session(name), true, nil
	}
	for _, name := range players {
		s := m.session(name)
		if st, err := s.PlaybackStatus(ctx); err == nil && st == ProviderPlaybackPlaying {
			return s, true, nil
		}
	}
	return m.session(players[0]), true, nil
}

func (m *MPRISSessions) session(name string) *mprisSession {
	return &mprisSession{name: name, obj: m.conn.Object(name, mprisObjectPath)}
}

// Close releases the bus connection.
func (m *MPRISSessions) Close() error {
	return m.conn.Close()
}

func mprisPlayers(names []string) []string {
	var players []string
	for _, n := range names {
		if strings.HasPrefix(n, mprisBusPrefix) {
			players = append(players, n)
		}
	}
	sort.Strings(players)
	return players
}

func matchPreferredPlayer(players []string, preferred string) (string, bool) {
	if preferred == "" {
		return "", false
	}
	for _, p := range players {
		if p == preferred || strings.TrimPrefix(p, mprisBusPrefix) == preferred {
			return p, true
		}
	}
	// Multi-instance players register as "<name>.instance<pid>".
	for _, p := range players {
		if strings.HasPrefix(strings.TrimPrefix(p, mprisBusPrefix), preferred+".") {
			return p, true
		}
	}
	return "", false
}

type mprisSession struct {
	name string
	obj  dbus.BusObject
}

func (s *mprisSession) call(ctx context.Context, method string) error {
	if err := s.obj.CallWithContext(ctx, mprisPlayerIface+"."+method, 0).Err; err != nil {
		return fmt.Errorf("%s %s: %w", s.name, method, err)
	}
	return nil
}

func (s *mprisSession) Play(ctx context.Context) error     { return s.call(ctx, "Play") }
func (s *mprisSession) Pause(ctx context.Context) error    { return s.call(ctx, "Pause") }
func (s *mprisSession) Next(ctx context.Context) error     { return s.call(ctx, "Next") }
func (s *mprisSession) Previous(ctx context.Context) error { return s.call(ctx, "Previous") }

func (s *mprisSession) property(ctx context.Context, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := s.obj.CallWithContext(ctx, dbusPropertiesGet, 0, mprisPlayerIface, prop).Store(&v)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("%s get %s: %w", s.name, prop, err)
	}
	return v, nil
}

func (s *mprisSession) PlaybackStatus(ctx context.Context) (ProviderPlayback, error) {
	v, err := s.property(ctx, "PlaybackStatus")
	if err != nil {
		return ProviderPlaybackOther, err
	}
	status, ok := v.Value().(string)
	if !ok {
		return ProviderPlaybackOther, fmt.Errorf("%s PlaybackStatus: unexpected type %s", s.name, v.Signature())
	}
	return mprisPlayback(status), nil
}

func (s *mprisSession) Info(ctx context.Context) (MediaInfo, error) {
	v, err := s.property(ctx, "Metadata")
	if err != nil {
		return MediaInfo{}, err
	}
	md, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return MediaInfo{}, fmt.Errorf("%s Metadata: unexpected type %s", s.name, v.Signature())
	}
	info := mprisInfo(md)
	if info == (MediaInfo{}) {
		return MediaInfo{}, errNoMetadata
	}
	return info, nil
}

func mprisPlayback(status string) ProviderPlayback {
	switch status {
	case "Playing":
		return ProviderPlaybackPlaying
	case "Paused":
		return ProviderPlaybackPaused
	default:
		return ProviderPlaybackOther
	}
}

func mprisInfo(md map[string]dbus.Variant) MediaInfo {
	var info MediaInfo
	if v, ok := md["xesam:title"]; ok {
		info.Title, _ = v.Value().(string)
	}
	if v, ok := md["xesam:album"]; ok {
		info.Album, _ = v.Value().(string)
	}
	if v, ok := md["xesam:artist"]; ok {
		switch a := v.Value().(type) {
		case []string:
			info.Artist = strings.Join(a, ", ")
		case string:
			info.Artist = a
		}
	}
	return info
}

// NoMedia reports that no media session ever exists.
type NoMedia struct{}

func (NoMedia) CurrentSession(context.Context) (MediaSession, bool, error) {
	return nil, false, nil
}
