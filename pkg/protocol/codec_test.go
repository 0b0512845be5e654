package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "encode listening request",
			msgType: MessageTypeListening,
			data:    &ListeningRequest{EngineID: "engine-b", From: "engine-a"},
			wantErr: false,
		},
		{
			name:    "encode alive reply",
			msgType: MessageTypeAlive,
			data:    &AliveReply{EngineID: "engine-b", PID: 42},
			wantErr: false,
		},
		{
			name:    "encode error message",
			msgType: MessageTypeError,
			data:    &ErrorMessage{Code: "BAD_REQUEST", Message: "nope"},
			wantErr: false,
		},
		{
			name:    "encode without data",
			msgType: MessageTypeAlive,
			data:    nil,
			wantErr: false,
		},
		{
			name:    "invalid message type",
			msgType: MessageType("INVALID"),
			data:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			var msg Message
			if err := json.Unmarshal(b, &msg); err != nil {
				t.Fatalf("Failed to unmarshal encoded message: %v", err)
			}
			if msg.Type != tt.msgType {
				t.Errorf("Type = %s, want %s", msg.Type, tt.msgType)
			}
			if msg.Timestamp.IsZero() {
				t.Error("Expected a timestamp")
			}
			if tt.data == nil && len(msg.Data) != 0 {
				t.Errorf("Expected no data, got %s", msg.Data)
			}
		})
	}
}

func TestListeningRoundTrip(t *testing.T) {
	b, err := EncodeListening(&ListeningRequest{EngineID: "engine-b", From: "engine-a", StackID: "s-1"})
	if err != nil {
		t.Fatalf("EncodeListening() error = %v", err)
	}
	req, err := DecodeListening(b)
	if err != nil {
		t.Fatalf("DecodeListening() error = %v", err)
	}
	if req.EngineID != "engine-b" || req.From != "engine-a" || req.StackID != "s-1" {
		t.Errorf("Unexpected request %+v", req)
	}

	if _, err := DecodeAlive(b); err == nil {
		t.Error("Expected DecodeAlive() to reject a LISTENING message")
	}
}

func TestDecodeAlive(t *testing.T) {
	b, err := EncodeAlive(&AliveReply{EngineID: "engine-b", PID: 7})
	if err != nil {
		t.Fatalf("EncodeAlive() error = %v", err)
	}
	reply, err := DecodeAlive(b)
	if err != nil {
		t.Fatalf("DecodeAlive() error = %v", err)
	}
	if reply.EngineID != "engine-b" || reply.PID != 7 {
		t.Errorf("Unexpected reply %+v", reply)
	}

	b, err = EncodeError(&ErrorMessage{Code: "BAD_REQUEST", Message: "malformed"})
	if err != nil {
		t.Fatalf("EncodeError() error = %v", err)
	}
	if _, err := DecodeAlive(b); err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Errorf("Expected the error message to surface, got %v", err)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "not json", input: "hello"},
		{name: "unknown type", input: `{"type":"PING","timestamp":"2024-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.input)); err == nil {
				t.Error("Expected Decode() to fail")
			}
		})
	}
}

func TestListeningRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ListeningRequest
		wantErr bool
	}{
		{name: "valid", req: ListeningRequest{EngineID: "a", From: "b"}},
		{name: "missing engine", req: ListeningRequest{From: "b"}, wantErr: true},
		{name: "missing sender", req: ListeningRequest{EngineID: "a"}, wantErr: true},
		{name: "wildcard engine", req: ListeningRequest{EngineID: "a.*", From: "b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEngineSubject(t *testing.T) {
	if got := EngineSubject("e1"); got != "stackforge.engine.e1" {
		t.Errorf("EngineSubject() = %s", got)
	}
}
