package main

import (
	"fmt"
	"strings"
)

// Identity names this device on the bus. It is built once from configuration
// and passed by value to everything that formats topics or descriptors.
type Identity struct {
	UserID     string
	DeviceID   string
	DeviceName string
}

// ActionTopic is where the assistant delivers commands for this device.
func (id Identity) ActionTopic() string {
	return fmt.Sprintf("%s/%s/%s/action", topicRoot, id.UserID, id.DeviceID)
}

// StatusTopic is where status snapshots are published.
func (id Identity) StatusTopic() string {
	return fmt.Sprintf("%s/%s/%s/status", topicRoot, id.UserID, id.DeviceID)
}

// Validate rejects identifiers that would break the topic layout.
func (id Identity) Validate() error {
	if err := validateTopicSegment("identity.user_id", id.UserID); err != nil {
		return err
	}
	if err := validateTopicSegment("identity.device_id", id.DeviceID); err != nil {
		return err
	}
	if strings.TrimSpace(id.DeviceName) == "" {
		return fmt.Errorf("identity.device_name must not be empty")
	}
	return nil
}

func validateTopicSegment(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if strings.ContainsAny(v, "/+#") {
		return fmt.Errorf("%s must not contain '/', '+' or '#': %q", field, v)
	}
	return nil
}
