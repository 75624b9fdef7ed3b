package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// Inbound Commands
// ============================================================================
// Wire format (action topic):
//   {"command": "action.devices.commands.setVolume", "params": {"volumeLevel": 50}}
//
// The identifier is mapped to a closed CommandKind. Anything unrecognized maps
// to CommandUnknown and is ignored by the dispatcher.
// ============================================================================

// CommandKind enumerates the commands this device understands.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandSetVolume
	CommandMute
	CommandVolumeRelative
	CommandMediaNext
	CommandMediaPrevious
	CommandMediaPause
	CommandMediaStop
	CommandMediaResume
	CommandOnOff
)

const commandPrefix = "action.devices.commands."

var commandNames = map[CommandKind]string{
	CommandSetVolume:      "setVolume",
	CommandMute:           "mute",
	CommandVolumeRelative: "volumeRelative",
	CommandMediaNext:      "mediaNext",
	CommandMediaPrevious:  "mediaPrevious",
	CommandMediaPause:     "mediaPause",
	CommandMediaStop:      "mediaStop",
	CommandMediaResume:    "mediaResume",
	CommandOnOff:          "OnOff",
}

var commandsByName = func() map[string]CommandKind {
	m := make(map[string]CommandKind, len(commandNames))
	for k, name := range commandNames {
		m[name] = k
	}
	return m
}()

// AllCommandKinds lists every known kind, excluding CommandUnknown.
func AllCommandKinds() []CommandKind {
	return []CommandKind{
		CommandSetVolume,
		CommandMute,
		CommandVolumeRelative,
		CommandMediaNext,
		CommandMediaPrevious,
		CommandMediaPause,
		CommandMediaStop,
		CommandMediaResume,
		CommandOnOff,
	}
}

// String returns the short command name ("setVolume").
func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

// Identifier returns the fully qualified wire identifier.
func (k CommandKind) Identifier() string {
	return commandPrefix + k.String()
}

// ParseCommandKind maps a wire identifier to its kind. Both the fully
// qualified form and the bare short name are accepted.
func ParseCommandKind(identifier string) CommandKind {
	name := strings.TrimPrefix(identifier, commandPrefix)
	if k, ok := commandsByName[name]; ok {
		return k
	}
	return CommandUnknown
}

// InboundCommand is one parsed command message.
type InboundCommand struct {
	Name   string
	Kind   CommandKind
	Params map[string]json.RawMessage
}

type wireCommand struct {
	Command *string                    `json:"command"`
	Params  map[string]json.RawMessage `json:"params,omitempty"`
}

// ErrMalformedCommand is returned for payloads that are not a command object.
var ErrMalformedCommand = errors.New("malformed command")

// ParseCommand decodes an inbound payload. Unknown identifiers are not an
// error; a payload without a string "command" field is.
func ParseCommand(payload []byte) (InboundCommand, error) {
	var w wireCommand
	if err := json.Unmarshal(payload, &w); err != nil {
		return InboundCommand{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if w.Command == nil {
		return InboundCommand{}, fmt.Errorf("%w: missing command field", ErrMalformedCommand)
	}
	params := w.Params
	if params == nil {
		params = map[string]json.RawMessage{}
	}
	return InboundCommand{
		Name:   *w.Command,
		Kind:   ParseCommandKind(*w.Command),
		Params: params,
	}, nil
}

// MarshalCommand builds a wire payload. Used by the CLI and tests.
func MarshalCommand(identifier string, params map[string]any) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	return json.Marshal(struct {
		Command string         `json:"command"`
		Params  map[string]any `json:"params"`
	}{Command: identifier, Params: params})
}

// Float returns a numeric parameter. ok is false when the parameter is
// missing or is not a JSON number (strings like "50" are rejected).
func (c InboundCommand) Float(name string) (float64, bool) {
	v, ok := c.param(name)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Bool returns a boolean parameter. ok is false when the parameter is
// missing or is not a JSON boolean.
func (c InboundCommand) Bool(name string) (bool, bool) {
	v, ok := c.param(name)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (c InboundCommand) param(name string) (any, bool) {
	raw, ok := c.Params[name]
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}
