package chirp

import (
	"fmt"
	"strings"
	"time"
)

// SessionState is the lifecycle state of a capture or playback session
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateAcquiring SessionState = "acquiring"
	StateActive    SessionState = "active"
	StateStopping  SessionState = "stopping"
	StateFailed    SessionState = "failed"
)

// Status is the user-facing status shown for a session
type Status string

const (
	StatusIdle      Status = "idle"
	StatusListening Status = "listening"
	StatusSuccess   Status = "success"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusError     Status = "error"
)

// SessionKind identifies which side of the modem a session drives
type SessionKind string

const (
	CaptureKind  SessionKind = "capture"
	PlaybackKind SessionKind = "playback"
)

// DecodedResult is one emitted decode. Never mutated after creation.
type DecodedResult struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TransmissionRequest is a validated request to send one code
type TransmissionRequest struct {
	Text          string     `json:"text"`
	ProtocolID    ProtocolID `json:"protocol_id"`
	VolumePercent int        `json:"volume_percent"`
	SpeakerMode   bool       `json:"speaker_mode"`
}

// NewTransmissionRequest validates user input and builds a request.
// Empty text is accepted here so the playback session can report NO_TEXT.
func NewTransmissionRequest(text string, protocol ProtocolID, volumePercent int, speakerMode bool) (TransmissionRequest, error) {
	if volumePercent < 0 || volumePercent > 100 {
		return TransmissionRequest{}, NewAudioError(
			fmt.Sprintf("volume %d out of range [0,100]", volumePercent), ErrCodeInvalidRequest).
			AddDetail("volume", volumePercent)
	}
	if _, ok := protocolNames[protocol]; !ok {
		return TransmissionRequest{}, NewAudioError(
			fmt.Sprintf("unknown protocol id %d", int(protocol)), ErrCodeInvalidRequest).
			AddDetail("protocol_id", int(protocol))
	}
	return TransmissionRequest{
		Text:          text,
		ProtocolID:    protocol,
		VolumePercent: volumePercent,
		SpeakerMode:   speakerMode,
	}, nil
}

// ProtocolDescriptor describes one entry of the codec's protocol registry
type ProtocolDescriptor struct {
	ID          ProtocolID `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	IsAudible   bool       `json:"is_audible"`
}

// NewProtocolDescriptor labels a registry entry. Audibility follows the
// registry naming convention: anything without AUDIBLE in its name is
// treated as ultrasonic.
func NewProtocolDescriptor(id ProtocolID, name string) ProtocolDescriptor {
	display := strings.TrimPrefix(name, protocolPrefix)
	display = strings.Replace(display, "_", " ", 1)
	return ProtocolDescriptor{
		ID:          id,
		Name:        name,
		DisplayName: display,
		IsAudible:   strings.Contains(name, "AUDIBLE"),
	}
}

// Audibility returns the label shown next to a protocol
func (p ProtocolDescriptor) Audibility() string {
	if p.IsAudible {
		return "Audible: Human can hear the sound"
	}
	return "Ultrasonic: Sound is not audible to humans"
}

// EventType names a Host event
type EventType string

const (
	EventDecoded EventType = "decoded"
	EventStatus  EventType = "status"
	EventSignal  EventType = "signal"
	EventError   EventType = "error"
	EventReset   EventType = "reset"
)

// Event is published by the Host to its subscribers
type Event struct {
	Type      EventType      `json:"type"`
	Session   SessionKind    `json:"session,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Status    Status         `json:"status,omitempty"`
	Result    *DecodedResult `json:"result,omitempty"`
	Signal    float64        `json:"signal"`
	Error     string         `json:"error,omitempty"`
	Code      string         `json:"code,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler types
type ResultHandler func(DecodedResult)
type SignalHandler func(float64)
type StateHandler func(SessionState)
type EventHandler func(Event)
