package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/knx-access/internal/infrastructure/config"
	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

// Codec serialises gateway messages for MQTT.
type Codec interface {
	// Name returns the payload format, "json" or "cbor".
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// NewCodec returns the codec for a configured payload format. An empty
// format selects JSON.
func NewCodec(format string) (Codec, error) {
	switch format {
	case "", config.PayloadJSON:
		return jsonCodec{}, nil
	case config.PayloadCBOR:
		return newCBORCodec()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return config.PayloadJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() (cborCodec, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return cborCodec{}, fmt.Errorf("cbor encoder: %w", err)
	}
	// Composite values arrive as maps; dpt.FromNative expects string keys.
	dec, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		return cborCodec{}, fmt.Errorf("cbor decoder: %w", err)
	}
	return cborCodec{enc: enc, dec: dec}, nil
}

func (cborCodec) Name() string                         { return config.PayloadCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// StateMessage is published (retained) on {prefix}/state/{ga} for every
// inbound write or response.
type StateMessage struct {
	Address   string    `json:"address"`
	Name      string    `json:"name,omitempty"`
	DPT       string    `json:"dpt,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Value     any       `json:"value"`
	Text      string    `json:"text,omitempty"`
	Raw       string    `json:"raw"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage is accepted on {prefix}/write/{ga} and {prefix}/read/{ga}.
//
// A write carries either Value (interpreted with DPT or the registry entry)
// or Raw (hex-encoded payload). A read ignores both.
type CommandMessage struct {
	RequestID string `json:"request_id,omitempty"`
	DPT       string `json:"dpt,omitempty"`
	Value     any    `json:"value,omitempty"`
	Raw       string `json:"raw,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// ResponseMessage answers a command that carried a request ID.
type ResponseMessage struct {
	RequestID string    `json:"request_id"`
	Operation string    `json:"operation"`
	Address   string    `json:"address"`
	Success   bool      `json:"success"`
	DPT       string    `json:"dpt,omitempty"`
	Value     any       `json:"value,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventMessage is published on {prefix}/event for access port lifecycle
// events.
type EventMessage struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// Observation is one inbound telegram together with its decoded value.
// Datapoint is nil for unmapped addresses; Value is nil for reads, unmapped
// addresses, and payloads that failed to decode.
type Observation struct {
	Telegram  knx.GroupTelegram
	Datapoint *Datapoint
	Value     dpt.Value
	DecodeErr error
}

// KindName returns the lower-case service name ("write", "read", "response").
func KindName(k knx.Kind) string {
	return strings.ToLower(k.String())
}

// NewStateMessage builds the state payload for an observation.
func NewStateMessage(o Observation) StateMessage {
	msg := StateMessage{
		Address:   o.Telegram.Address.String(),
		Kind:      KindName(o.Telegram.Kind),
		Source:    o.Telegram.Source.String(),
		Raw:       hex.EncodeToString(o.Telegram.Payload),
		Timestamp: o.Telegram.Received.UTC(),
	}
	if o.Datapoint != nil {
		msg.Name = o.Datapoint.Name
		msg.DPT = o.Datapoint.DPT.String()
		msg.Unit = o.Datapoint.DPT.Unit()
	}
	if o.Value != nil {
		msg.Value = dpt.Native(o.Value)
		msg.Text = o.Value.String()
	}
	return msg
}

// ParseRaw decodes a hex payload, tolerating spaces and an 0x prefix.
func ParseRaw(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, " ", "")
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: raw: %w", ErrInvalidCommand, err)
	}
	if len(b) > knx.MaxPayload {
		return nil, fmt.Errorf("%w: raw payload of %d bytes exceeds %d", ErrInvalidCommand, len(b), knx.MaxPayload)
	}
	return b, nil
}

// EncodeCommand turns a write command into wire bytes and the bit width to
// send them with. Raw payloads use the short form only when a DPT of six
// bits or fewer is known; otherwise they go out in the long form.
func EncodeCommand(r *Registry, ga knx.GroupAddress, cmd CommandMessage) ([]byte, int, dpt.ID, error) {
	if cmd.Raw != "" {
		raw, err := ParseRaw(cmd.Raw)
		if err != nil {
			return nil, 0, dpt.ID{}, err
		}
		id, err := r.Resolve(ga, cmd.DPT)
		if err != nil {
			if errors.Is(err, ErrUnknownDatapoint) {
				return raw, 0, dpt.ID{}, nil
			}
			return nil, 0, dpt.ID{}, err
		}
		return raw, id.Family().Bits(), id, nil
	}

	if cmd.Value == nil {
		return nil, 0, dpt.ID{}, fmt.Errorf("%w: neither value nor raw given", ErrInvalidCommand)
	}
	id, err := r.Resolve(ga, cmd.DPT)
	if err != nil {
		return nil, 0, dpt.ID{}, err
	}
	v, err := dpt.FromNative(id.Family(), cmd.Value)
	if err != nil {
		return nil, 0, dpt.ID{}, err
	}
	return v.Encode(), id.Family().Bits(), id, nil
}
