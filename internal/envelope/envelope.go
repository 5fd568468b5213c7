// Package envelope defines the wire unit exchanged between a content frame and
// its host: a channel-tagged, typed envelope whose payload shape is fixed per
// message type.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Channel identifies this protocol among unrelated traffic sharing the same
// transport. Frames carrying any other value are ignored.
const Channel = "MOVERON_POC"

var (
	// ErrForeignChannel marks a frame that belongs to some other protocol.
	ErrForeignChannel = errors.New("envelope: foreign channel")
	// ErrUnknownType marks a frame on our channel with an unrecognized type.
	ErrUnknownType = errors.New("envelope: unknown type")
	// ErrMalformed marks a frame that could not be decoded at all.
	ErrMalformed = errors.New("envelope: malformed")
)

// Type is the closed set of envelope kinds.
type Type string

// Outbound (content → host) types.
const (
	TypeReady         Type = "READY"
	TypeEvent         Type = "EVENT"
	TypeLocation      Type = "LOCATION"
	TypeState         Type = "STATE"
	TypeResumeRequest Type = "RESUME_REQUEST"
	TypeSuspend       Type = "SUSPEND"
	TypeComplete      Type = "COMPLETE"
)

// Inbound (host → content) types.
const (
	TypeSession    Type = "SESSION"
	TypeResumeData Type = "RESUME_DATA"
)

// Outbound reports whether content frames send this type.
func (t Type) Outbound() bool {
	switch t {
	case TypeReady, TypeEvent, TypeLocation, TypeState, TypeResumeRequest, TypeSuspend, TypeComplete:
		return true
	}
	return false
}

// Inbound reports whether hosts send this type.
func (t Type) Inbound() bool {
	return t == TypeSession || t == TypeResumeData
}

// Known reports whether t belongs to the protocol.
func (t Type) Known() bool {
	return t.Outbound() || t.Inbound()
}

// Meta key names populated by every content frame.
const (
	MetaContentID      = "contentId"
	MetaContentVersion = "contentVersion"
)

// Meta carries content identity. Keys are only ever added or overwritten.
type Meta map[string]string

// NewMeta returns the initial identity with empty content fields.
func NewMeta() Meta {
	return Meta{MetaContentID: "", MetaContentVersion: ""}
}

// Merge copies every key of other into a copy of m and returns it. Keys of m
// absent from other are kept.
func (m Meta) Merge(other Meta) Meta {
	out := make(Meta, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy of m.
func (m Meta) Clone() Meta {
	return m.Merge(nil)
}

// ContentID returns the contentId field.
func (m Meta) ContentID() string { return m[MetaContentID] }

// ContentVersion returns the contentVersion field.
func (m Meta) ContentVersion() string { return m[MetaContentVersion] }

// Envelope is one protocol message. TS is advisory; no ordering across
// frames may be derived from it.
type Envelope struct {
	Channel string          `json:"channel"`
	Type    Type            `json:"type"`
	Meta    Meta            `json:"meta,omitempty"`
	Payload json.RawMessage `json:"payload"`
	TS      int64           `json:"ts"`
}

// New builds an envelope on Channel for the given payload variant.
func New(meta Meta, payload Payload, ts time.Time) (Envelope, error) {
	if payload == nil {
		return Envelope{}, errors.New("payload is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", payload.Type(), err)
	}
	return Envelope{
		Channel: Channel,
		Type:    payload.Type(),
		Meta:    meta.Clone(),
		Payload: body,
		TS:      ts.UnixMilli(),
	}, nil
}

// Decode parses a raw frame. The channel is checked before anything else so
// unrelated traffic is rejected with ErrForeignChannel without further
// interpretation.
func Decode(data []byte) (Envelope, error) {
	var probe struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if probe.Channel != Channel {
		return Envelope{}, ErrForeignChannel
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !env.Type.Known() {
		return Envelope{}, fmt.Errorf("%w %q", ErrUnknownType, env.Type)
	}
	return env, nil
}

// Encode marshals env for the wire.
func Encode(env Envelope) ([]byte, error) {
	if env.Channel != Channel {
		return nil, ErrForeignChannel
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Time converts TS back to a UTC time.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.TS).UTC()
}

// Decode decodes and validates the payload variant selected by e.Type.
func (e Envelope) Decode() (Payload, error) {
	var p Payload
	switch e.Type {
	case TypeReady:
		p = &Ready{}
	case TypeEvent:
		p = &Event{}
	case TypeLocation:
		p = &Location{}
	case TypeState:
		p = &State{}
	case TypeResumeRequest:
		p = &ResumeRequest{}
	case TypeSuspend:
		p = &Suspend{}
	case TypeComplete:
		p = &Complete{}
	case TypeSession:
		p = &Session{}
	case TypeResumeData:
		p = &ResumeData{}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, e.Type)
	}
	if len(e.Payload) > 0 && string(e.Payload) != "null" {
		if err := json.Unmarshal(e.Payload, p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
		}
	}
	if v, ok := p.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
		}
	}
	return deref(p), nil
}
