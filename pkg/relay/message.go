package relay

import (
	"encoding/json"
	"errors"
	"unicode/utf8"
)

// Message types understood by the relay itself. Everything else is opaque.
const (
	TypeCreate    = "create"
	TypeJoin      = "join"
	TypeCreated   = "created"
	TypeJoined    = "joined"
	TypeError     = "error"
	TypePeerJoin  = "peer-join"
	TypePeerLeave = "peer-leave"
)

// Envelope is the JSON shape of every message on /ws.
// Only the envelope-level fields are typed; relayed payloads keep whatever
// other fields the client put on them.
type Envelope struct {
	Type    string          `json:"type"`              // create, join, created, joined, error, peer-join, peer-leave, or any relayed type
	RoomID  string          `json:"roomId,omitempty"`  // room identifier (create/join/created/joined)
	Pin     string          `json:"pin,omitempty"`     // room PIN (create/join)
	Name    string          `json:"name,omitempty"`    // display name (create/join/peer-join/peer-leave)
	Message string          `json:"message,omitempty"` // chat text
	URL     string          `json:"url,omitempty"`     // video address for loadVideo
	Time    *float64        `json:"time,omitempty"`    // playback position for seek
	Signal  json.RawMessage `json:"signal,omitempty"`  // opaque WebRTC negotiation payload
	Error   string          `json:"error,omitempty"`   // error text
}

// Kind discriminates decoded inbound messages.
type Kind int

const (
	KindRelay Kind = iota // opaque payload, forwarded as-is
	KindCreate
	KindJoin
)

// Control carries the fields of a create or join request.
type Control struct {
	RoomID string `json:"roomId"`
	Pin    string `json:"pin"`
	Name   string `json:"name"`
}

// Inbound is one decoded message from a client.
type Inbound struct {
	Kind    Kind
	Type    string
	Control Control // set for KindCreate and KindJoin
	Raw     []byte  // the frame exactly as received
}

// ErrMalformedPayload marks frames that cannot be decoded. They are dropped
// without a reply.
var ErrMalformedPayload = errors.New("malformed payload")

// Decode parses a raw frame into an Inbound.
// The frame must be valid UTF-8 and a JSON object; if it has a type field
// that field must be a string. Control fields that are not strings decode as
// empty so the request is answered with the usual missing or mismatch error.
func Decode(data []byte) (Inbound, error) {
	// Raw bytes are forwarded to browsers as text frames, which must be UTF-8.
	if !utf8.Valid(data) {
		return Inbound{}, ErrMalformedPayload
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return Inbound{}, ErrMalformedPayload
	}

	in := Inbound{Kind: KindRelay, Raw: data}
	if raw, ok := obj["type"]; ok {
		if err := json.Unmarshal(raw, &in.Type); err != nil {
			return Inbound{}, ErrMalformedPayload
		}
	}

	switch in.Type {
	case TypeCreate:
		in.Kind = KindCreate
	case TypeJoin:
		in.Kind = KindJoin
	default:
		return in, nil
	}

	for key, dst := range map[string]*string{
		"roomId": &in.Control.RoomID,
		"pin":    &in.Control.Pin,
		"name":   &in.Control.Name,
	} {
		var v string
		if err := json.Unmarshal(obj[key], &v); err == nil {
			*dst = v
		}
	}
	return in, nil
}

func encode(msg Envelope) []byte {
	data, _ := json.Marshal(msg)
	return data
}
