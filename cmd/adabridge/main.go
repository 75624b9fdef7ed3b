package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string

	userID     string
	deviceID   string
	deviceName string

	broker   string
	clientID string
	username string
	password string

	statusIntervalMS int

	audioBackend string
	mediaBackend string
	powerBackend string

	ipcSocket string

	stateWS     bool
	stateWSAddr string

	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "adabridge",
		Short: "Bridge smart-home assistant commands over MQTT to local volume, media and power control",
		Long: `adabridge subscribes to /ada/<user>/<device>/action on an MQTT broker and maps
assistant commands (setVolume, mute, volumeRelative, media transport, OnOff)
onto the local sound server, media players and power management. Status is
published to /ada/<user>/<device>/status every few seconds and after every change.

Running without a subcommand is the same as "adabridge serve".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	opts.bindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCmd(opts),
		newSendCmd(opts),
		newQuitCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newConsoleCmd(opts),
	)
	return cmd
}

// bindFlags registers the persistent flags on pf.
func (o *rootOptions) bindFlags(pf *pflag.FlagSet) {
	pf.StringVar(&o.configPath, "config", "", "Config file (YAML, or TOML by .toml extension); default "+DefaultConfigPath()+" if present")
	pf.StringVar(&o.envFile, "env-file", "", "Env file loaded before the config is expanded (default ./.env if present)")

	pf.StringVar(&o.userID, "user-id", defaultUserID, "Assistant user id (topic segment)")
	pf.StringVar(&o.deviceID, "device-id", defaultDeviceID, "Device id (topic segment)")
	pf.StringVar(&o.deviceName, "device-name", defaultDeviceName, "Device name announced to the assistant")

	pf.StringVar(&o.broker, "broker", defaultBroker, "MQTT broker URL (tcp://, ssl://, mqtts://, ws://, wss://)")
	pf.StringVar(&o.clientID, "client-id", "", "MQTT client id (default adabridge-<device-id>-<random>)")
	pf.StringVar(&o.username, "username", "", "MQTT username")
	pf.StringVar(&o.password, "password", "", "MQTT password (prefer ${VAR} in the config file)")

	pf.IntVar(&o.statusIntervalMS, "status-interval-ms", defaultStatusIntervalMS, "Periodic status report interval in ms")

	pf.StringVar(&o.audioBackend, "audio", "pactl", "Audio backend: pactl|camilladsp|memory")
	pf.StringVar(&o.mediaBackend, "media", "mpris", "Media backend: mpris|none")
	pf.StringVar(&o.powerBackend, "power", "logind", "Power backend: logind|syscall|none")

	pf.StringVar(&o.ipcSocket, "ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC (empty disables)")

	pf.BoolVar(&o.stateWS, "state-ws", false, "Serve the status websocket mirror")
	pf.StringVar(&o.stateWSAddr, "state-ws-addr", defaultStateWSAddr, "Status websocket listen address")

	pf.StringVar(&o.logLevel, "log-level", "info", "Log level: error, warn, info, debug")
	pf.StringVar(&o.logFormat, "log-format", "text", "Log format: text|json")
}

// overrides collects the flags the user actually set.
func (o *rootOptions) overrides(fs *pflag.FlagSet) FlagOverrides {
	var fo FlagOverrides
	str := func(name string, v *string) *string {
		if fs.Changed(name) {
			return v
		}
		return nil
	}

	fo.UserID = str("user-id", &o.userID)
	fo.DeviceID = str("device-id", &o.deviceID)
	fo.DeviceName = str("device-name", &o.deviceName)
	fo.Broker = str("broker", &o.broker)
	fo.ClientID = str("client-id", &o.clientID)
	fo.Username = str("username", &o.username)
	fo.Password = str("password", &o.password)
	if fs.Changed("status-interval-ms") {
		fo.StatusIntervalMS = &o.statusIntervalMS
	}
	fo.AudioBackend = str("audio", &o.audioBackend)
	fo.MediaBackend = str("media", &o.mediaBackend)
	fo.PowerBackend = str("power", &o.powerBackend)
	fo.IPCSocketPath = str("ipc-socket", &o.ipcSocket)
	if fs.Changed("state-ws") {
		fo.StateWSEnabled = &o.stateWS
	}
	fo.StateWSAddr = str("state-ws-addr", &o.stateWSAddr)
	fo.LogLevel = str("log-level", &o.logLevel)
	fo.LogFormat = str("log-format", &o.logFormat)
	return fo
}

// loadConfig applies defaults, the config file and flag overrides, then validates.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (Config, error) {
	if err := LoadEnvFile(o.envFile); err != nil {
		return Config{}, err
	}

	path := o.configPath
	if path == "" {
		if p := DefaultConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}

	o.overrides(cmd.Flags()).Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.ResolveClientID()

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(os.Stdout, level, cfg.Logging.Format)
	id := cfg.IdentityValue()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	prov, err := buildProviders(ctx, cfg, true, logger)
	if err != nil {
		logger.Error("failed to initialize providers", "error", err)
		return err
	}
	defer prov.Close()

	inbound := make(chan InboundMessage, inboundQueueSize)
	ui := NewLocalUI(logger)

	bus, err := NewMQTTBus(cfg.MQTT, id, NewAnnouncement(id, cfg.DeviceInfo()), inbound, logger)
	if err != nil {
		logger.Error("failed to configure MQTT", "error", err)
		return err
	}
	defer bus.Close()

	var hub *Hub
	var mirror StatusMirror
	if cfg.StateWS.Enabled {
		hub = NewHub(logger, HubConfig{})
		mirror = hub
	}

	reporter := NewReporter(prov.audio, prov.media, bus, id.StatusTopic(), mirror, logger)
	dispatcher := NewDispatcher(prov.audio, prov.media, prov.power, reporter, logger)
	daemon := NewDaemon(dispatcher, reporter, inbound, ui.Messages(), logger)

	connectCtx, cancelConnect := context.WithTimeout(ctx, time.Duration(cfg.MQTT.ConnectTimeoutMS)*time.Millisecond)
	err = bus.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		logger.Error("failed to connect to MQTT broker", "broker", cfg.MQTT.Broker, "error", err)
		return err
	}

	logger.Debug("configuration",
		"client_id", cfg.MQTT.ClientID,
		"keep_alive_sec", cfg.MQTT.KeepAliveSec,
		"audio", cfg.Audio.Backend,
		"media", cfg.Media.Backend,
		"power", cfg.Power.Backend,
		"state_ws", cfg.StateWS.Enabled)
	logger.Info("listening",
		"broker", cfg.MQTT.Broker,
		"action_topic", id.ActionTopic(),
		"status_topic", id.StatusTopic(),
		"interval_ms", cfg.Status.IntervalMS,
		"ipc", cfg.IPC.SocketPath)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ui.Run(gctx) })

	if cfg.IPC.SocketPath != "" {
		srv := NewIPCServer(cfg.IPC.SocketPath, inbound, ui, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if hub != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.StateWS.Path, hub.Handler())
		g.Go(func() error { return hub.Run(gctx) })
		g.Go(func() error { return runHTTPServer(gctx, cfg.StateWS.ListenAddr, mux, logger) })
	}

	g.Go(func() error {
		// The loop ending (Quit or error) stops everything else.
		defer cancel()
		ticker := time.NewTicker(time.Duration(cfg.Status.IntervalMS) * time.Millisecond)
		defer ticker.Stop()
		return daemon.Run(gctx, ticker.C)
	})

	err = g.Wait()
	logger.Info("stopped")
	return err
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <command> [key=value ...]",
		Short: "Inject a command into the running daemon",
		Long: `Send a command through the daemon's IPC socket, exactly as if it had arrived
on the action topic. Values are parsed as JSON when possible.

Examples:
  adabridge send setVolume volumeLevel=40
  adabridge send mute mute=true
  adabridge send volumeRelative relativeSteps=-5
  adabridge send mediaNext`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			payload, err := buildCommandPayload(args)
			if err != nil {
				return err
			}
			if err := SendIPCCommand(cfg.IPC.SocketPath, payload); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

// buildCommandPayload turns CLI arguments into a wire command. Known short
// names are expanded to their full identifiers.
func buildCommandPayload(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing command")
	}
	identifier := args[0]
	if k := ParseCommandKind(identifier); k != CommandUnknown {
		identifier = k.Identifier()
	}

	params := make(map[string]any, len(args)-1)
	for _, kv := range args[1:] {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q must be key=value", kv)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return MarshalCommand(identifier, params)
}

func newQuitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "Ask the running daemon to exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := SendIPCQuit(cfg.IPC.SocketPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status snapshot the daemon would publish, without touching the broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			level, _ := parseLogLevel(cfg.Logging.Level)
			logger := setupLogger(cmd.ErrOrStderr(), level, cfg.Logging.Format)

			prov, err := buildProviders(cmd.Context(), cfg, false, logger)
			if err != nil {
				return err
			}
			defer prov.Close()

			snap, err := NewReporter(prov.audio, prov.media, nil, "", nil, logger).Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
