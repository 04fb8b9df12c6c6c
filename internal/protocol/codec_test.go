package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies that decode(encode(m)) == m for every
// command, with and without payload, at the sequence number extremes.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		msg  *Message
	}{
		{"HELLO seq 0", &Message{Command: CmdHello, Seq: 0, SessionID: 0x12345678, Clock: 1}},
		{"DATA small payload", &Message{Command: CmdData, Seq: 42, SessionID: 0xDEADBEEF, Clock: 99, Timestamp: 1_700_000_000_000_000_000, Payload: []byte("hello world")}},
		{"DATA empty payload", &Message{Command: CmdData, Seq: 7, SessionID: 0xAABBCCDD, Payload: []byte{}}},
		{"DATA max payload", &Message{Command: CmdData, Seq: 1, SessionID: 1, Payload: make([]byte, MaxPayloadSize)}},
		{"ALIVE max seq", &Message{Command: CmdAlive, Seq: math.MaxUint32, SessionID: math.MaxUint32, Clock: math.MaxUint64, Timestamp: math.MaxUint64}},
		{"GOODBYE", &Message{Command: CmdGoodbye, Seq: 3, SessionID: 0xCAFEBABE, Clock: 12}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if len(encoded) != HeaderSize+len(tc.msg.Payload) {
				t.Fatalf("encoded length: got %d, want %d", len(encoded), HeaderSize+len(tc.msg.Payload))
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.Command != tc.msg.Command {
				t.Errorf("Command mismatch: got %s, want %s", decoded.Command, tc.msg.Command)
			}
			if decoded.Seq != tc.msg.Seq {
				t.Errorf("Seq mismatch: got %d, want %d", decoded.Seq, tc.msg.Seq)
			}
			if decoded.SessionID != tc.msg.SessionID {
				t.Errorf("SessionID mismatch: got 0x%08X, want 0x%08X", decoded.SessionID, tc.msg.SessionID)
			}
			if decoded.Clock != tc.msg.Clock {
				t.Errorf("Clock mismatch: got %d, want %d", decoded.Clock, tc.msg.Clock)
			}
			if decoded.Timestamp != tc.msg.Timestamp {
				t.Errorf("Timestamp mismatch: got %d, want %d", decoded.Timestamp, tc.msg.Timestamp)
			}
			if !bytes.Equal(decoded.Payload, tc.msg.Payload) {
				t.Errorf("Payload mismatch: got %d bytes, want %d", len(decoded.Payload), len(tc.msg.Payload))
			}
		})
	}
}

// TestWireLayout pins the byte order and field offsets so that independent
// implementations interoperate.
func TestWireLayout(t *testing.T) {
	msg := &Message{Command: CmdHello, Seq: 42, SessionID: 12345678, Clock: 99, Timestamp: 5, Payload: []byte("test payload")}
	pkt, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}

	if got := binary.BigEndian.Uint16(pkt[0:2]); got != 50273 {
		t.Errorf("magic: got %d, want 50273", got)
	}
	if pkt[2] != 1 {
		t.Errorf("version: got %d", pkt[2])
	}
	if pkt[3] != 0 {
		t.Errorf("command: got %d", pkt[3])
	}
	if got := binary.BigEndian.Uint32(pkt[4:8]); got != 42 {
		t.Errorf("seq: got %d", got)
	}
	if got := binary.BigEndian.Uint32(pkt[8:12]); got != 12345678 {
		t.Errorf("session: got %d", got)
	}
	if got := binary.BigEndian.Uint64(pkt[12:20]); got != 99 {
		t.Errorf("clock: got %d", got)
	}
	if got := binary.BigEndian.Uint64(pkt[20:28]); got != 5 {
		t.Errorf("timestamp: got %d", got)
	}
	if string(pkt[28:]) != "test payload" {
		t.Errorf("payload: got %q", pkt[28:])
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := Encode(&Message{Command: CmdData, Payload: make([]byte, MaxPayloadSize+1)})
	if !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncodeUnknownCommand(t *testing.T) {
	_, err := Encode(&Message{Command: Command(9)})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

// TestDecodeMalformed verifies every rejection path returns ErrMalformed
// together with its specific cause.
func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(&Message{Command: CmdAlive, Seq: 1, SessionID: 1})
	if err != nil {
		t.Fatal(err)
	}
	mutate := func(i int, b byte) []byte {
		out := append([]byte(nil), valid...)
		out[i] = b
		return out
	}

	testCases := []struct {
		name  string
		data  []byte
		cause error
	}{
		{"empty", []byte{}, ErrShortHeader},
		{"one byte short", valid[:HeaderSize-1], ErrShortHeader},
		{"bad magic", mutate(0, 0x00), ErrBadMagic},
		{"bad version", mutate(2, 2), ErrBadVersion},
		{"unknown command", mutate(3, 4), ErrUnknownCommand},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
			if !errors.Is(err, tc.cause) {
				t.Fatalf("expected %v, got %v", tc.cause, err)
			}
		})
	}
}

// TestDecodeDoesNotAlias verifies the decoded payload is a copy.
func TestDecodeDoesNotAlias(t *testing.T) {
	raw, err := Encode(&Message{Command: CmdData, Payload: []byte("abc")})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	raw[HeaderSize] = 'z'
	if string(msg.Payload) != "abc" {
		t.Fatalf("payload aliased input buffer: %q", msg.Payload)
	}
}

func TestDecodeExactHeaderSize(t *testing.T) {
	raw, err := Encode(&Message{Command: CmdGoodbye, Seq: 9, SessionID: 0xABCDEF01})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Payload != nil {
		t.Errorf("expected nil payload, got %v", msg.Payload)
	}
}

func TestClock(t *testing.T) {
	var c Clock
	if got := c.Tick(); got != 1 {
		t.Fatalf("Tick: got %d, want 1", got)
	}
	if got := c.Merge(10); got != 11 {
		t.Fatalf("Merge(10): got %d, want 11", got)
	}
	if got := c.Merge(3); got != 12 {
		t.Fatalf("Merge(3): got %d, want 12", got)
	}
	if got := c.Now(); got != 12 {
		t.Fatalf("Now: got %d, want 12", got)
	}
}
