// Package protocol defines the UAP wire message and its fixed-header codec.
package protocol

import "fmt"

// Wire constants shared by every UAP implementation.
const (
	Magic   uint16 = 0xC461
	Version uint8  = 1
)

// HeaderSize is the fixed header size:
// Magic(2) + Version(1) + Command(1) + Seq(4) + Session(4) + Clock(8) + Timestamp(8).
const HeaderSize = 28

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// MaxPayloadSize is the largest payload a single message can carry.
const MaxPayloadSize = MaxDatagramSize - HeaderSize

// Command identifies the purpose of a message.
type Command uint8

const (
	CmdHello   Command = 0 // session start
	CmdData    Command = 1 // application payload
	CmdAlive   Command = 2 // liveness / acknowledgment
	CmdGoodbye Command = 3 // graceful close
)

// Valid reports whether c is one of the four known commands.
func (c Command) Valid() bool {
	return c <= CmdGoodbye
}

func (c Command) String() string {
	switch c {
	case CmdHello:
		return "HELLO"
	case CmdData:
		return "DATA"
	case CmdAlive:
		return "ALIVE"
	case CmdGoodbye:
		return "GOODBYE"
	}
	return fmt.Sprintf("CMD(%d)", uint8(c))
}

// Message is one UAP datagram.
type Message struct {
	Command   Command
	Seq       uint32 // per (SessionID, direction), starts at 0
	SessionID uint32 // chosen by the client at HELLO time
	Clock     uint64 // sender's Lamport clock at emission
	Timestamp uint64 // sender's wall clock, Unix nanoseconds
	Payload   []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("%s session=0x%08x seq=%d clock=%d len=%d",
		m.Command, m.SessionID, m.Seq, m.Clock, len(m.Payload))
}
