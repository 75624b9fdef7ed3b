package main

import "time"

// Identity defaults used when no configuration overrides them.
const (
	defaultUserID     = "1"
	defaultDeviceID   = "15617999"
	defaultDeviceName = "PC"

	defaultManufacturer = "adabridge"
	defaultModel        = "linux-pc-control"
	defaultHWVersion    = "1.0"
	defaultSWVersion    = version
)

// MQTT topics and delivery guarantees.
const (
	topicRoot     = "/ada"
	discoverTopic = topicRoot + "/discover"

	qosAtLeastOnce byte = 1
	qosExactlyOnce byte = 2

	actionQoS   = qosExactlyOnce
	statusQoS   = qosAtLeastOnce
	announceQoS = qosAtLeastOnce
)

// Transport and scheduling defaults.
const (
	defaultBroker           = "tcp://127.0.0.1:1883"
	defaultKeepAliveSec     = 5
	defaultConnectTimeoutMS = 10000
	defaultWriteTimeoutMS   = 5000
	defaultDisconnectMS     = 250

	defaultStatusIntervalMS = 5000

	// Shared by the bus callbacks and the IPC server.
	inboundQueueSize = 64
)

// Audio backend defaults.
const (
	defaultPactlBinary = "pactl"
	defaultPactlSink   = "@DEFAULT_SINK@"

	// PulseAudio volume units for 100%.
	pulseVolumeNorm = 65536

	defaultReadTimeoutMS = 500
	defaultCamillaMinDB  = -65.0
	defaultCamillaMaxDB  = 0.0
)

// Local surfaces.
const (
	defaultIPCSocketPath = "/tmp/adabridge.sock"
	defaultStateWSAddr   = "127.0.0.1:3002"
	defaultStateWSPath   = "/ws/status"

	httpShutdownTimeout = 3 * time.Second
)

// Descriptor attributes advertised to the assistant.
const (
	volumeMaxLevel          = 100
	volumeLevelStepSize     = 1
	volumeDefaultPercentage = 36
)
