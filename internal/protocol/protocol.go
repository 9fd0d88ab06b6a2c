package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RecordSeparator terminates every record on the wire.
const RecordSeparator byte = 0x1e

// MessageType identifies a hub protocol record.
type MessageType int

const (
	TypeInvocation       MessageType = 1
	TypeStreamItem       MessageType = 2
	TypeCompletion       MessageType = 3
	TypeStreamInvocation MessageType = 4
	TypeCancelInvocation MessageType = 5
	TypePing             MessageType = 6
	TypeClose            MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case TypeInvocation:
		return "invocation"
	case TypeStreamItem:
		return "stream_item"
	case TypeCompletion:
		return "completion"
	case TypeStreamInvocation:
		return "stream_invocation"
	case TypeCancelInvocation:
		return "cancel_invocation"
	case TypePing:
		return "ping"
	case TypeClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Errors
var (
	ErrEmptyRecord     = errors.New("empty record")
	ErrHandshakeFailed = errors.New("handshake rejected")
)

// HandshakeRequest is the first record the client sends.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the first record the server sends. A non-empty Error
// means the server refused the connection.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Message is a decoded inbound record.
type Message struct {
	Type           MessageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// invocation is the outbound form of an Invocation record.
type invocation struct {
	Type         MessageType `json:"type"`
	InvocationID string      `json:"invocationId,omitempty"`
	Target       string      `json:"target"`
	Arguments    []any       `json:"arguments"`
}

// EncodeHandshake returns the client handshake record.
func EncodeHandshake() []byte {
	data, _ := json.Marshal(HandshakeRequest{Protocol: "json", Version: 1})
	return append(data, RecordSeparator)
}

// EncodeInvocation encodes an Invocation record. An empty id makes it a
// non-blocking (fire-and-forget) invocation the server will not complete.
func EncodeInvocation(id, target string, args ...any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(invocation{
		Type:         TypeInvocation,
		InvocationID: id,
		Target:       target,
		Arguments:    args,
	})
	if err != nil {
		return nil, fmt.Errorf("encode invocation %s: %w", target, err)
	}
	return append(data, RecordSeparator), nil
}

// EncodePing returns a Ping record.
func EncodePing() []byte {
	return []byte(`{"type":6}` + string(RecordSeparator))
}

// EncodeClose returns a Close record.
func EncodeClose() []byte {
	return []byte(`{"type":7}` + string(RecordSeparator))
}

// Split breaks a frame into records, dropping the separators and any empty
// trailing segment. A frame without a trailing separator yields its remainder
// as the last record.
func Split(frame []byte) [][]byte {
	var records [][]byte
	for len(frame) > 0 {
		i := bytes.IndexByte(frame, RecordSeparator)
		if i < 0 {
			records = append(records, frame)
			break
		}
		if i > 0 {
			records = append(records, frame[:i])
		}
		frame = frame[i+1:]
	}
	return records
}

// Decode parses a single record (without separator).
func Decode(record []byte) (Message, error) {
	record = bytes.TrimSpace(record)
	if len(record) == 0 {
		return Message{}, ErrEmptyRecord
	}
	var msg Message
	if err := json.Unmarshal(record, &msg); err != nil {
		return Message{}, fmt.Errorf("decode record: %w", err)
	}
	return msg, nil
}

// DecodeHandshake parses the server handshake record.
func DecodeHandshake(record []byte) error {
	var resp HandshakeResponse
	if err := json.Unmarshal(bytes.TrimSpace(record), &resp); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", ErrHandshakeFailed, resp.Error)
	}
	return nil
}
