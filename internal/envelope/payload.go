package envelope

import (
	"encoding/json"
	"errors"
)

// Payload is implemented by exactly one struct per Type.
type Payload interface {
	Type() Type
}

type validator interface {
	validate() error
}

// Ready announces a freshly initialized content frame.
type Ready struct {
	UserAgent string `json:"userAgent"`
}

// Event carries free-form content telemetry.
type Event struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Location signals a coarse navigational position.
type Location struct {
	Location string `json:"location"`
}

// State is a routine checkpoint the host may persist.
type State struct {
	State json.RawMessage `json:"state"`
}

// ResumeRequest asks the host for the most recent checkpoint.
type ResumeRequest struct{}

// Suspend is an intentional pause with a checkpoint.
type Suspend struct {
	Location string          `json:"location"`
	State    json.RawMessage `json:"state"`
}

// Complete is the terminal completion report.
type Complete struct {
	Completion  bool            `json:"completion"`
	Success     bool            `json:"success"`
	ScoreRaw    float64         `json:"scoreRaw"`
	ScoreMax    float64         `json:"scoreMax"`
	TotalTimeMs int64           `json:"totalTimeMs"`
	Detail      json.RawMessage `json:"detail,omitempty"`
}

// Session binds the frame to a host session. Extra carries any additional
// host-supplied fields.
type Session struct {
	SessionID string                     `json:"sessionId"`
	Extra     map[string]json.RawMessage `json:"-"`
}

// ResumeData delivers a checkpoint previously persisted by the host.
type ResumeData struct {
	State json.RawMessage `json:"state"`
}

// Type implements Payload.
func (Ready) Type() Type { return TypeReady }

// Type implements Payload.
func (Event) Type() Type { return TypeEvent }

// Type implements Payload.
func (Location) Type() Type { return TypeLocation }

// Type implements Payload.
func (State) Type() Type { return TypeState }

// Type implements Payload.
func (ResumeRequest) Type() Type { return TypeResumeRequest }

// Type implements Payload.
func (Suspend) Type() Type { return TypeSuspend }

// Type implements Payload.
func (Complete) Type() Type { return TypeComplete }

// Type implements Payload.
func (Session) Type() Type { return TypeSession }

// Type implements Payload.
func (ResumeData) Type() Type { return TypeResumeData }

func (e *Event) validate() error {
	if e.EventType == "" {
		return errors.New("eventType is required")
	}
	return nil
}

func (s *Session) validate() error {
	if s.SessionID == "" {
		return errors.New("sessionId is required")
	}
	return nil
}

// MarshalJSON flattens Extra next to sessionId.
func (s Session) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+1)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["sessionId"] = s.SessionID
	return json.Marshal(out)
}

// UnmarshalJSON keeps unknown host fields in Extra.
func (s *Session) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.SessionID = ""
	if id, ok := raw["sessionId"]; ok {
		if err := json.Unmarshal(id, &s.SessionID); err != nil {
			return err
		}
		delete(raw, "sessionId")
	}
	s.Extra = nil
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Ready:
		return *v
	case *Event:
		return *v
	case *Location:
		return *v
	case *State:
		return *v
	case *ResumeRequest:
		return *v
	case *Suspend:
		return *v
	case *Complete:
		return *v
	case *Session:
		return *v
	case *ResumeData:
		return *v
	}
	return p
}
