// Package channel implements the message channels multiplexed over a
// connection: a reliable-ordered channel with block transfer (reliable.go)
// and the unreliable-unordered / unreliable-process channels
// (unreliable.go). All three share the envelope and counter types defined
// here.
//
// Grounded on
// _examples/original_source/Network/include/ReliableUDP/MessageChannelShared.hpp
// and .../Errors.hpp.
package channel

import (
	"fmt"

	"github.com/hcoffman/relay"
)

// MaxMessageProtocol bounds the protocol/message-type id field, mirroring
// the original's max_message_type_number template parameter defaulted to
// the full range of a uint16.
const MaxMessageProtocol = 65535

// MaxPayloadBytes bounds a single message's serialised payload length,
// matching the 16-bit length prefix used by serialiseMessage/deserialiseMessage.
const MaxPayloadBytes = 65535

// ChannelMessage is the envelope shared by every channel (spec §3.4). Id is
// the channel sequence for the reliable-ordered channel, or the source
// packet sequence for the unreliable channels.
type ChannelMessage struct {
	Protocol    uint32
	ID          uint16
	IsBlock     bool
	BlockOffset int
	BlockSize   int
	Payload     []byte
}

func (m *ChannelMessage) Reset() {
	*m = ChannelMessage{}
}

// Counter indexes a channel's per-instance counters array (spec §4.6
// "Error model" / original's ChannelCounters).
type Counter int

const (
	CounterMessagesSent Counter = iota
	CounterMessagesReceived
	CounterNumberOfCounters
)

// ErrorLevel is the channel error taxonomy (spec §4.6/§4.7, §7). NONE is
// the non-error resting state; every other level is terminal until the
// channel is reset. Grounded on Errors.hpp's CHANNEL_ERROR_* enum, which
// carries five values despite spec §4.6's "four levels" undercount (see
// SPEC_FULL.md §3 item 4).
type ErrorLevel int

const (
	ErrorLevelNone ErrorLevel = iota
	ErrorLevelDesync
	ErrorLevelSendQueueFull
	ErrorLevelFailedToSerialise
	ErrorLevelOutOfMemory
)

func (l ErrorLevel) String() string {
	switch l {
	case ErrorLevelNone:
		return "none"
	case ErrorLevelDesync:
		return "desync"
	case ErrorLevelSendQueueFull:
		return "send queue full"
	case ErrorLevelFailedToSerialise:
		return "failed to serialise"
	case ErrorLevelOutOfMemory:
		return "out of memory"
	default:
		return fmt.Sprintf("unknown channel error level %d", int(l))
	}
}

// measureMessageBits estimates the number of bits serialiseMessage will
// write for payload, used by callers to budget available_bits before
// committing to a write. Mirrors the original's
// m_connection_manager->GetPacketHandler()->GetMessageSizeInBits call,
// generalised here to a fixed wire shape (protocol id + 16-bit length
// prefix + payload bytes) since this library has no per-type packet
// handler to delegate to.
func measureMessageBits(payloadLen int) int {
	return relay.BitsRequired(0, MaxMessageProtocol) + 16 + payloadLen*8
}

// serialiseMessage writes protocol id, then a byte-aligned length-prefixed
// payload.
func serialiseMessage(w *relay.WriteStream, protocol uint32, payload []byte) {
	w.SerialiseInteger(protocol, 0, MaxMessageProtocol)
	w.SerialiseInteger(uint32(len(payload)), 0, MaxPayloadBytes)
	w.SerialiseBytes(payload)
}

// deserialiseMessage mirrors serialiseMessage.
func deserialiseMessage(r *relay.ReadStream) (protocol uint32, payload []byte, ok bool) {
	protocol, ok = r.DeserialiseInteger(0, MaxMessageProtocol)
	if !ok {
		return 0, nil, false
	}
	length, ok := r.DeserialiseInteger(0, MaxPayloadBytes)
	if !ok {
		return 0, nil, false
	}
	payload = make([]byte, length)
	if !r.DeserialiseBytes(payload, int(length)) {
		return 0, nil, false
	}
	return protocol, payload, true
}
