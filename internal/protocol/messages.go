package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeAudio       MessageType = "audio"
	TypeText        MessageType = "text"
	TypeSpeechEnded MessageType = "speech_ended"

	TypeTranscript MessageType = "transcript"
	TypeSpeak      MessageType = "speak"
	TypeReady      MessageType = "ready"
	TypeError      MessageType = "error"
)

// Speaker values carried by transcript events.
const (
	SpeakerUser = "user"
	SpeakerAI   = "ai"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// AudioBytes decodes either a JSON array of byte values or a base64 string, and
// encodes as an array of byte values.
type AudioBytes []byte

func (a AudioBytes) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.Grow(len(a)*4 + 2)
	b.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
	b.WriteByte(']')
	return b.Bytes(), nil
}

func (a *AudioBytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("audio data: %w", err)
		}
		*a = decoded
		return nil
	default:
		var values []int
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("audio data: %w", err)
		}
		out := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return fmt.Errorf("audio data: value %d at index %d out of byte range", v, i)
			}
			out[i] = byte(v)
		}
		*a = out
		return nil
	}
}

// Audio carries one captured utterance buffer.
type Audio struct {
	Type MessageType `json:"type"`
	Data AudioBytes  `json:"data"`
}

// Text is a direct text utterance.
type Text struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// SpeechEnded reports that the client finished playing the last speak directive.
type SpeechEnded struct {
	Type MessageType `json:"type"`
}

type Transcript struct {
	Type    MessageType `json:"type"`
	Speaker string      `json:"speaker"`
	Text    string      `json:"text"`
}

type Speak struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	Voice    string      `json:"voice"`
	Language string      `json:"language"`
	Provider string      `json:"provider"`
	Speed    float64     `json:"speed,omitempty"`
}

type Ready struct {
	Type MessageType `json:"type"`
}

// ErrorEvent reports a malformed inbound message. Turn failures never use it.
type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func NewTranscript(speaker, text string) Transcript {
	return Transcript{Type: TypeTranscript, Speaker: speaker, Text: text}
}

func NewReady() Ready {
	return Ready{Type: TypeReady}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAudio:
		var msg Audio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeText:
		var msg Text
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid text: empty")
		}
		return msg, nil
	case TypeSpeechEnded:
		return SpeechEnded{Type: TypeSpeechEnded}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParseServerMessage decodes an outbound message; used by clients of the channel.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	var msg any
	switch env.Type {
	case TypeTranscript:
		msg = &Transcript{}
	case TypeSpeak:
		msg = &Speak{}
	case TypeReady:
		msg = &Ready{}
	case TypeError:
		msg = &ErrorEvent{}
	default:
		return nil, ErrUnsupportedType
	}
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case *Transcript:
		return *m, nil
	case *Speak:
		return *m, nil
	case *Ready:
		return *m, nil
	case *ErrorEvent:
		return *m, nil
	}
	return nil, ErrUnsupportedType
}

// TypeOf reports the wire type of a parsed or outbound message.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case Audio:
		return m.Type, true
	case Text:
		return m.Type, true
	case SpeechEnded:
		return m.Type, true
	case Transcript:
		return m.Type, true
	case Speak:
		return m.Type, true
	case Ready:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
