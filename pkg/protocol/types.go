// Package protocol defines the JSON messages engines exchange over NATS to
// check each other's liveness before a stack lock is stolen.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SubjectPrefix is the NATS subject prefix engines listen on.
const SubjectPrefix = "stackforge.engine"

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeListening asks an engine whether it is still running
	MessageTypeListening MessageType = "LISTENING"
	// MessageTypeAlive is the answer of a running engine
	MessageTypeAlive MessageType = "ALIVE"
	// MessageTypeError indicates the request could not be served
	MessageTypeError MessageType = "ERROR"
)

// Message is the envelope of every protocol message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ListeningRequest asks the engine EngineID whether it is alive.
type ListeningRequest struct {
	EngineID string `json:"engine_id"`
	From     string `json:"from"`
	StackID  string `json:"stack_id,omitempty"`
}

// AliveReply is sent by an engine answering a ListeningRequest.
type AliveReply struct {
	EngineID  string    `json:"engine_id"`
	PID       int       `json:"pid"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// ErrorMessage indicates an error occurred.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EngineSubject returns the subject the engine engineID listens on.
func EngineSubject(engineID string) string {
	return SubjectPrefix + "." + engineID
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeListening, MessageTypeAlive, MessageTypeError:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the request is valid.
func (r *ListeningRequest) Validate() error {
	if r.EngineID == "" {
		return fmt.Errorf("engine ID is required")
	}
	if strings.ContainsAny(r.EngineID, ".*> ") {
		return fmt.Errorf("engine ID %q is not a valid subject token", r.EngineID)
	}
	if r.From == "" {
		return fmt.Errorf("sender engine ID is required")
	}
	return nil
}

// Validate checks if the reply is valid.
func (r *AliveReply) Validate() error {
	if r.EngineID == "" {
		return fmt.Errorf("engine ID is required")
	}
	return nil
}
