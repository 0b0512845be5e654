package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Encode wraps data in a Message of type msgType and marshals it.
func Encode(msgType MessageType, data interface{}) ([]byte, error) {
	if err := msgType.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message type: %w", err)
	}

	var dataBytes []byte
	var err error
	if data != nil {
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return msgBytes, nil
}

// EncodeListening encodes a LISTENING request.
func EncodeListening(req *ListeningRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return Encode(MessageTypeListening, req)
}

// EncodeAlive encodes an ALIVE reply.
func EncodeAlive(reply *AliveReply) ([]byte, error) {
	if err := reply.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reply: %w", err)
	}
	return Encode(MessageTypeAlive, reply)
}

// EncodeError encodes an ERROR message.
func EncodeError(e *ErrorMessage) ([]byte, error) {
	return Encode(MessageTypeError, e)
}

// Decode unmarshals a message envelope.
func Decode(b []byte) (*Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if err := msg.Type.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	return &msg, nil
}

// DecodeListening decodes a LISTENING request.
func DecodeListening(b []byte) (*ListeningRequest, error) {
	msg, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageTypeListening {
		return nil, fmt.Errorf("expected LISTENING message, got %s", msg.Type)
	}

	var req ListeningRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &req, nil
}

// DecodeAlive decodes the answer to a LISTENING request. An ERROR answer is
// returned as an error.
func DecodeAlive(b []byte) (*AliveReply, error) {
	msg, err := Decode(b)
	if err != nil {
		return nil, err
	}

	switch msg.Type {
	case MessageTypeAlive:
		var reply AliveReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
		}
		if err := reply.Validate(); err != nil {
			return nil, fmt.Errorf("invalid reply: %w", err)
		}
		return &reply, nil
	case MessageTypeError:
		var e ErrorMessage
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error: %w", err)
		}
		return nil, fmt.Errorf("engine error %s: %s", e.Code, e.Message)
	default:
		return nil, fmt.Errorf("expected ALIVE message, got %s", msg.Type)
	}
}
