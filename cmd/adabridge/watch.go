package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var wsURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow status snapshots from the daemon's status websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wsURL == "" {
				cfg, err := opts.loadConfig(cmd)
				if err != nil {
					return err
				}
				wsURL = (&url.URL{Scheme: "ws", Host: cfg.StateWS.ListenAddr, Path: cfg.StateWS.Path}).String()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchStatus(ctx, wsURL, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&wsURL, "url", "", "Status websocket URL (default derived from state_ws.listen_addr and state_ws.path)")
	return cmd
}

// watchStatus prints one line per status frame until ctx is done or the
// server closes the connection.
func watchStatus(ctx context.Context, wsURL string, w io.Writer) error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Fprintln(w, formatStatusFrame(msg))
	}
}

func formatStatusFrame(msg []byte) string {
	var env struct {
		Type string         `json:"type"`
		Ts   time.Time      `json:"ts"`
		Data StatusSnapshot `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil || env.Type != wsTypeStatus {
		return string(msg)
	}
	s := env.Data
	line := fmt.Sprintf("%s volume=%.1f muted=%t on=%t",
		env.Ts.Local().Format("15:04:05"), s.CurrentVolume, s.IsMuted, s.On)
	if s.PlaybackState != nil {
		line += " playback=" + string(*s.PlaybackState)
	}
	return line
}
