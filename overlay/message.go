package overlay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event names.
const (
	EventShowImage    = "showImage"
	EventShowText     = "showText"
	EventPlaySound    = "playSound"
	EventPlaySequence = "playSequence"
	EventPlay         = "play"
	EventStop         = "stop"
	EventSetDelay     = "setDelay"
	EventSetVariance  = "setVariance"
	EventVolume       = "fxvol"
	EventSoundLoaded  = "soundLoaded"
)

// Acknowledgement event names.
const (
	AckImage    = "imgdispDone"
	AckText     = "textDone"
	AckSound    = "soundDone"
	AckSequence = "sequenceDone"
)

var (
	// ErrUnknownEvent is returned by Handle for an event it does not understand.
	ErrUnknownEvent = errors.New("unknown overlay event")
	// ErrUnknownSequence is returned when a requested sequence is not in the catalog.
	ErrUnknownSequence = errors.New("unknown sequence")
	// ErrInvalidPayload is returned when an event's data cannot be decoded.
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Message is an event addressed to the overlay client.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes data as the payload of event.
func NewMessage(event string, data any) (Message, error) {
	if data == nil {
		return Message{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Message{Event: event, Data: raw}, nil
}

// ImageRequest shows an image, plays a sound, or both.
type ImageRequest struct {
	Image      string `json:"image,omitempty"`
	Sound      string `json:"sound,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// TextRequest shows a caption.
type TextRequest struct {
	Text       string `json:"text"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// SoundRequest plays a sound.
type SoundRequest struct {
	Sound string `json:"sound"`
}

// SequenceRequest plays a catalog sequence. It also decodes from a bare JSON string.
type SequenceRequest struct {
	Name string `json:"name"`
}

func (r *SequenceRequest) UnmarshalJSON(b []byte) error {
	if trimmed := bytes.TrimSpace(b); len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &r.Name)
	}
	type plain SequenceRequest
	return json.Unmarshal(b, (*plain)(r))
}

// SecondsRequest carries a delay in seconds.
type SecondsRequest struct {
	Seconds float64 `json:"seconds"`
}

// VolumeRequest sets the effects volume in [0, 1].
type VolumeRequest struct {
	Volume float64 `json:"volume"`
}

// SoundLoaded reports the length of a sound a browser has loaded.
type SoundLoaded struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"durationMs"`
}

// ImageDone acknowledges an image display.
type ImageDone struct {
	Image string `json:"image"`
}

// TextDone acknowledges a caption.
type TextDone struct {
	Text string `json:"text"`
}

// SoundDone acknowledges a sound.
type SoundDone struct {
	Sound string `json:"sound"`
}

// SequenceDone acknowledges the end of a sequence run.
type SequenceDone struct {
	Name      string `json:"name"`
	Cancelled bool   `json:"cancelled"`
}

func decode(msg Message, v any) error {
	if len(bytes.TrimSpace(msg.Data)) == 0 {
		return fmt.Errorf("%s: missing data: %w", msg.Event, ErrInvalidPayload)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%s: %v: %w", msg.Event, err, ErrInvalidPayload)
	}
	return nil
}
