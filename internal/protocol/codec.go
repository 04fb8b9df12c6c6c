package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrEncoding is returned by Encode; it wraps the specific cause.
	ErrEncoding        = errors.New("encode message")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum datagram size")
	ErrUnknownCommand  = errors.New("unknown command")

	// ErrMalformed is returned by Decode; it wraps the specific cause.
	ErrMalformed   = errors.New("malformed message")
	ErrShortHeader = errors.New("datagram shorter than header")
	ErrBadMagic    = errors.New("unrecognized magic")
	ErrBadVersion  = errors.New("unsupported version")
)

// Encode serializes a Message into a single datagram.
func Encode(msg *Message) ([]byte, error) {
	if len(msg.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %w (%d bytes)", ErrEncoding, ErrPayloadTooLarge, len(msg.Payload))
	}
	if !msg.Command.Valid() {
		return nil, fmt.Errorf("%w: %w: %d", ErrEncoding, ErrUnknownCommand, uint8(msg.Command))
	}

	buf := make([]byte, HeaderSize+len(msg.Payload))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = byte(msg.Command)
	binary.BigEndian.PutUint32(buf[4:8], msg.Seq)
	binary.BigEndian.PutUint32(buf[8:12], msg.SessionID)
	binary.BigEndian.PutUint64(buf[12:20], msg.Clock)
	binary.BigEndian.PutUint64(buf[20:28], msg.Timestamp)
	copy(buf[HeaderSize:], msg.Payload)
	return buf, nil
}

// Decode deserializes a datagram into a Message. It never retains data.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %w: %d bytes (need at least %d)", ErrMalformed, ErrShortHeader, len(data), HeaderSize)
	}
	if magic := binary.BigEndian.Uint16(data[0:2]); magic != Magic {
		return nil, fmt.Errorf("%w: %w: 0x%04x", ErrMalformed, ErrBadMagic, magic)
	}
	if data[2] != Version {
		return nil, fmt.Errorf("%w: %w: %d", ErrMalformed, ErrBadVersion, data[2])
	}
	cmd := Command(data[3])
	if !cmd.Valid() {
		return nil, fmt.Errorf("%w: %w: %d", ErrMalformed, ErrUnknownCommand, data[3])
	}

	msg := &Message{
		Command:   cmd,
		Seq:       binary.BigEndian.Uint32(data[4:8]),
		SessionID: binary.BigEndian.Uint32(data[8:12]),
		Clock:     binary.BigEndian.Uint64(data[12:20]),
		Timestamp: binary.BigEndian.Uint64(data[20:28]),
	}
	if len(data) > HeaderSize {
		msg.Payload = make([]byte, len(data)-HeaderSize)
		copy(msg.Payload, data[HeaderSize:])
	}
	return msg, nil
}
