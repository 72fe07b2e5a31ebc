package relay

import "errors"

var (
	ErrMissingField = errors.New("missing field")
	ErrPinMismatch  = errors.New("pin mismatch")
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("not in room")
)

// ProtocolError is a rejection that is reported back to the client as an
// error envelope. Kind is one of the sentinels above; Text is the wire text.
type ProtocolError struct {
	Kind error
	Text string
}

func (e *ProtocolError) Error() string { return e.Text }

func (e *ProtocolError) Unwrap() error { return e.Kind }

var (
	errMissingRoomOrPin  = &ProtocolError{Kind: ErrMissingField, Text: "roomId and pin required"}
	errCreatePinMismatch = &ProtocolError{Kind: ErrPinMismatch, Text: "PIN mismatch for existing room"}
	errJoinWrongPin      = &ProtocolError{Kind: ErrPinMismatch, Text: "Wrong PIN"}
	errRoomNotFound      = &ProtocolError{Kind: ErrRoomNotFound, Text: "Room not found"}
	errNotInRoom         = &ProtocolError{Kind: ErrNotInRoom, Text: "Not in a room"}
)

// errorKind returns a short label for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrPinMismatch):
		return "pin_mismatch"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	}
	return "unknown"
}
