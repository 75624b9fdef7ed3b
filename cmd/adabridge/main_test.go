package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateConfig keeps the user's real config and .env out of CLI tests.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildCommandPayload(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "short name expanded",
			args: []string{"setVolume", "volumeLevel=40"},
			want: `{"command":"action.devices.commands.setVolume","params":{"volumeLevel":40}}`,
		},
		{
			name: "bool param",
			args: []string{"action.devices.commands.mute", "mute=true"},
			want: `{"command":"action.devices.commands.mute","params":{"mute":true}}`,
		},
		{
			name: "negative steps",
			args: []string{"volumeRelative", "relativeSteps=-5"},
			want: `{"command":"action.devices.commands.volumeRelative","params":{"relativeSteps":-5}}`,
		},
		{
			name: "no params",
			args: []string{"mediaNext"},
			want: `{"command":"action.devices.commands.mediaNext","params":{}}`,
		},
		{
			name: "non-json value kept as string",
			args: []string{"setVolume", "volumeLevel=loud"},
			want: `{"command":"action.devices.commands.setVolume","params":{"volumeLevel":"loud"}}`,
		},
		{
			name: "unknown command passed through",
			args: []string{"action.devices.commands.dim", "level=3"},
			want: `{"command":"action.devices.commands.dim","params":{"level":3}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildCommandPayload(tt.args)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	_, err := buildCommandPayload(nil)
	assert.Error(t, err)
	_, err = buildCommandPayload([]string{"mute", "true"})
	assert.Error(t, err)
	_, err = buildCommandPayload([]string{"mute", "=true"})
	assert.Error(t, err)
}

// parsedOptions binds the root flags to a bare command and parses args.
func parsedOptions(t *testing.T, args ...string) (*rootOptions, *cobra.Command) {
	t.Helper()
	opts := &rootOptions{}
	cmd := &cobra.Command{Use: "test"}
	opts.bindFlags(cmd.Flags())
	require.NoError(t, cmd.ParseFlags(args))
	return opts, cmd
}

func TestLoadConfigLayering(t *testing.T) {
	isolateConfig(t)
	path := writeConfig(t, "config.yaml", "identity:\n  device_id: from-file\n  user_id: \"5\"\nstatus:\n  interval_ms: 1000\n")

	opts, cmd := parsedOptions(t, "--config", path, "--status-interval-ms", "250", "--user-id", "9")
	cfg, err := opts.loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Identity.DeviceID, "file beats default")
	assert.Equal(t, "9", cfg.Identity.UserID, "flag beats file")
	assert.Equal(t, 250, cfg.Status.IntervalMS, "flag beats file")
	assert.Equal(t, defaultBroker, cfg.MQTT.Broker, "unset flag keeps default")
}

func TestLoadConfigWithoutFile(t *testing.T) {
	isolateConfig(t)
	opts, cmd := parsedOptions(t, "--broker", "tcp://10.1.1.1:1883")
	cfg, err := opts.loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "tcp://10.1.1.1:1883", cfg.MQTT.Broker)
	assert.Equal(t, defaultDeviceID, cfg.Identity.DeviceID)
}

func TestLoadConfigRejectsInvalidOverride(t *testing.T) {
	isolateConfig(t)
	opts, cmd := parsedOptions(t, "--device-id", "a/b")
	_, err := opts.loadConfig(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity.device_id")
}

func TestOverridesOnlyChangedFlags(t *testing.T) {
	opts, cmd := parsedOptions(t, "--device-id", "den", "--state-ws")
	fo := opts.overrides(cmd.Flags())

	require.NotNil(t, fo.DeviceID)
	assert.Equal(t, "den", *fo.DeviceID)
	require.NotNil(t, fo.StateWSEnabled)
	assert.True(t, *fo.StateWSEnabled)
	assert.Nil(t, fo.UserID)
	assert.Nil(t, fo.Broker)
	assert.Nil(t, fo.StatusIntervalMS)
	assert.Nil(t, fo.AudioBackend)
}

func TestStatusCommandPrintsSnapshot(t *testing.T) {
	isolateConfig(t)
	path := writeConfig(t, "config.yaml", "audio:\n  backend: memory\nmedia:\n  backend: none\n")

	out, err := executeRoot(t, "status", "--config", path, "--log-level", "error")
	require.NoError(t, err)

	var snap StatusSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, float64(volumeDefaultPercentage), snap.CurrentVolume)
	assert.False(t, snap.IsMuted)
	assert.True(t, snap.On)
	assert.Nil(t, snap.PlaybackState)
}

func TestStatusCommandInvalidConfig(t *testing.T) {
	isolateConfig(t)
	_, err := executeRoot(t, "status", "--audio", "alsa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio.backend")
}

func TestSendAndQuitCommandsUseIPC(t *testing.T) {
	isolateConfig(t)
	inbound := make(chan InboundMessage, 1)
	quit := &countingQuit{}
	socket := startIPC(t, inbound, quit)

	out, err := executeRoot(t, "send", "setVolume", "volumeLevel=30", "--ipc-socket", socket)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	select {
	case msg := <-inbound:
		cmd, err := ParseCommand(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, CommandSetVolume, cmd.Kind)
		level, ok := cmd.Float("volumeLevel")
		require.True(t, ok)
		assert.Equal(t, 30.0, level)
	case <-time.After(time.Second):
		t.Fatal("command not delivered")
	}

	_, err = executeRoot(t, "quit", "--ipc-socket", socket)
	require.NoError(t, err)
	assert.Equal(t, int32(1), quit.n.Load())
}

func TestRunConsoleLineRejectsNestedDaemon(t *testing.T) {
	assert.Error(t, runConsoleLine([]string{"serve"}, nil))
	assert.Error(t, runConsoleLine([]string{"console"}, nil))
	assert.NoError(t, runConsoleLine(nil, nil))
}
