package main

import "encoding/json"

const (
	deviceTypeRemoteControl = "action.devices.types.REMOTECONTROL"
	traitPrefix             = "action.devices.traits."
)

// DeviceInfo is the static hardware/software description sent with the announcement.
type DeviceInfo struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	HWVersion    string `json:"hwVersion"`
	SWVersion    string `json:"swVersion"`
}

// DeviceName wraps the user-visible device name.
type DeviceName struct {
	Name string `json:"name"`
}

// DeviceAttributes advertises the volume and transport capabilities.
type DeviceAttributes struct {
	SupportPlaybackState              bool     `json:"supportPlaybackState"`
	VolumeMaxLevel                    int      `json:"volumeMaxLevel"`
	VolumeCanMuteAndUnmute            bool     `json:"volumeCanMuteAndUnmute"`
	LevelStepSize                     int      `json:"levelStepSize"`
	CommandOnlyVolume                 bool     `json:"commandOnlyVolume"`
	VolumeDefaultPercentage           int      `json:"volumeDefaultPercentage"`
	TransportControlSupportedCommands []string `json:"transportControlSupportedCommands"`
}

// DeviceDescriptor is the device record understood by the assistant backend.
type DeviceDescriptor struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	Traits          []string         `json:"traits"`
	Name            DeviceName       `json:"name"`
	WillReportState bool             `json:"willReportState"`
	Attributes      DeviceAttributes `json:"attributes"`
	DeviceInfo      DeviceInfo       `json:"deviceInfo"`
}

// Announcement is published once, retained, on the discovery topic.
type Announcement struct {
	DeviceID string           `json:"deviceId"`
	UserID   string           `json:"userId"`
	Device   DeviceDescriptor `json:"device"`
}

// NewAnnouncement builds the discovery record for id.
func NewAnnouncement(id Identity, info DeviceInfo) Announcement {
	return Announcement{
		DeviceID: id.DeviceID,
		UserID:   id.UserID,
		Device: DeviceDescriptor{
			ID:   id.DeviceID,
			Type: deviceTypeRemoteControl,
			Traits: []string{
				traitPrefix + "OnOff",
				traitPrefix + "Volume",
				traitPrefix + "TransportControl",
				traitPrefix + "MediaState",
			},
			Name:            DeviceName{Name: id.DeviceName},
			WillReportState: true,
			Attributes: DeviceAttributes{
				SupportPlaybackState:    true,
				VolumeMaxLevel:          volumeMaxLevel,
				VolumeCanMuteAndUnmute:  true,
				LevelStepSize:           volumeLevelStepSize,
				CommandOnlyVolume:       false,
				VolumeDefaultPercentage: volumeDefaultPercentage,
				TransportControlSupportedCommands: []string{
					"NEXT", "PREVIOUS", "PAUSE", "STOP", "RESUME",
				},
			},
			DeviceInfo: info,
		},
	}
}

// Payload serializes the announcement.
func (a Announcement) Payload() ([]byte, error) {
	return json.Marshal(a)
}
