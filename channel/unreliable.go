package channel

import "github.com/hcoffman/relay"

// UnreliableChannelConfig configures either unreliable channel variant
// (spec §4.7, C7). Grounded on
// _examples/original_source/Network/include/ReliableUDP/UnreliableMessageChannel.hpp's
// template parameters.
type UnreliableChannelConfig struct {
	ChannelIndex         int
	NumChannels          int
	MaxMessagesPerPacket int
	SendQueueSize        int
	ReceiveQueueSize     int
	PacketBudgetBytes    int
}

func DefaultUnreliableChannelConfig() UnreliableChannelConfig {
	return UnreliableChannelConfig{
		NumChannels:          1,
		MaxMessagesPerPacket: 256,
		SendQueueSize:        1024,
		ReceiveQueueSize:     1024,
		PacketBudgetBytes:    -1,
	}
}

// drainMessagesForPacket pulls as many messages as fit within budget bits
// off queue, non-blocking, stopping at maxMessages. The original backs its
// send/receive rings with atomic_queue's lock-free MPMC queue; no
// comparable library appears anywhere in the retrieved example pack (see
// DESIGN.md), so this uses a buffered Go channel — a language primitive,
// not a standard-library fallback.
func drainMessagesForPacket(queue chan ChannelMessage, maxMessages, budgetBits int) ([]ChannelMessage, int) {
	var messages []ChannelMessage
	usedBits := 0
	for len(messages) < maxMessages {
		select {
		case msg := <-queue:
			bits := measureMessageBits(len(msg.Payload))
			if usedBits+bits > budgetBits {
				// Doesn't fit this packet: spec §4.7 says "messages that do
				// not fit are freed and dropped", so it is not requeued.
				continue
			}
			usedBits += bits
			messages = append(messages, msg)
		default:
			return messages, usedBits
		}
	}
	return messages, usedBits
}

func writeUnreliablePacketData(w *relay.WriteStream, channelIndex, numChannels, maxMessagesPerPacket int, messages []ChannelMessage) {
	w.SerialiseInteger(uint32(channelIndex), 0, uint32(maxInt(numChannels-1, 0)))
	w.SerialiseBool(false) // block_message
	w.SerialiseBool(true)  // has_messages
	w.SerialiseInteger(uint32(len(messages)), 1, uint32(maxMessagesPerPacket))
	for _, msg := range messages {
		serialiseMessage(w, msg.Protocol, msg.Payload)
	}
}

// UnreliableUnorderedChannel delivers messages best-effort: at most once,
// with no ordering guarantee, dropped under backpressure in either
// direction (spec §4.7).
type UnreliableUnorderedChannel struct {
	config     UnreliableChannelConfig
	errorLevel ErrorLevel
	sendQueue  chan ChannelMessage
	recvQueue  chan ChannelMessage
	counters   [CounterNumberOfCounters]uint64
}

func NewUnreliableUnorderedChannel(config UnreliableChannelConfig) *UnreliableUnorderedChannel {
	return &UnreliableUnorderedChannel{
		config:    config,
		sendQueue: make(chan ChannelMessage, config.SendQueueSize),
		recvQueue: make(chan ChannelMessage, config.ReceiveQueueSize),
	}
}

func (c *UnreliableUnorderedChannel) Reset() {
	c.errorLevel = ErrorLevelNone
	for {
		select {
		case <-c.sendQueue:
		default:
			goto drainedSend
		}
	}
drainedSend:
	for {
		select {
		case <-c.recvQueue:
		default:
			goto drainedRecv
		}
	}
drainedRecv:
	c.counters = [CounterNumberOfCounters]uint64{}
}

func (c *UnreliableUnorderedChannel) ErrorLevel() ErrorLevel          { return c.errorLevel }
func (c *UnreliableUnorderedChannel) Counter(counter Counter) uint64 { return c.counters[counter] }

func (c *UnreliableUnorderedChannel) setErrorLevel(level ErrorLevel) {
	if level != c.errorLevel && level != ErrorLevelNone {
		log.Warningf("unreliable channel %d went into error state: %s", c.config.ChannelIndex, level)
	}
	c.errorLevel = level
}

func (c *UnreliableUnorderedChannel) SendMessage(msg ChannelMessage) bool {
	if c.errorLevel != ErrorLevelNone {
		return false
	}
	select {
	case c.sendQueue <- msg:
		c.counters[CounterMessagesSent]++
		return true
	default:
		c.setErrorLevel(ErrorLevelSendQueueFull)
		return false
	}
}

// GetPacketData dequeues as many messages as fit in availableBits and
// serialises them (spec §4.7).
func (c *UnreliableUnorderedChannel) GetPacketData(w *relay.WriteStream, availableBits int) int {
	if c.errorLevel != ErrorLevelNone {
		return 0
	}

	channelIndexBits := relay.BitsRequired(0, uint32(c.config.NumChannels))
	numberOfMessagesBits := relay.BitsRequired(0, uint32(c.config.MaxMessagesPerPacket))
	headerBits := channelIndexBits + 2 + numberOfMessagesBits
	if availableBits < headerBits {
		return 0
	}

	budget := availableBits - headerBits
	if c.config.PacketBudgetBytes > 0 && c.config.PacketBudgetBytes*8 < budget {
		budget = c.config.PacketBudgetBytes * 8
	}

	messages, usedBits := drainMessagesForPacket(c.sendQueue, c.config.MaxMessagesPerPacket, budget)
	if len(messages) == 0 {
		return 0
	}

	writeUnreliablePacketData(w, c.config.ChannelIndex, c.config.NumChannels, c.config.MaxMessagesPerPacket, messages)
	return headerBits + usedBits
}

// ProcessPacketData deserialises messages and pushes them into the receive
// ring; overflow drops (spec §4.7).
func (c *UnreliableUnorderedChannel) ProcessPacketData(r *relay.ReadStream, packetSeq uint16) bool {
	if c.errorLevel != ErrorLevelNone {
		return false
	}
	numMessages, ok := r.DeserialiseInteger(1, uint32(c.config.MaxMessagesPerPacket))
	if !ok {
		c.setErrorLevel(ErrorLevelFailedToSerialise)
		return false
	}
	for i := 0; i < int(numMessages); i++ {
		protocol, payload, ok := deserialiseMessage(r)
		if !ok {
			c.setErrorLevel(ErrorLevelFailedToSerialise)
			return false
		}
		msg := ChannelMessage{Protocol: protocol, ID: packetSeq, Payload: payload}
		select {
		case c.recvQueue <- msg:
			c.counters[CounterMessagesReceived]++
		default:
			// receive ring full: overflow drop.
		}
	}
	return true
}

// ReceiveMessage pops one envelope if present.
func (c *UnreliableUnorderedChannel) ReceiveMessage() (ChannelMessage, bool) {
	select {
	case msg := <-c.recvQueue:
		return msg, true
	default:
		return ChannelMessage{}, false
	}
}

// UnreliableProcessChannel is send/serialise-identical to
// UnreliableUnorderedChannel but carries no receive queue: every received
// message is handed synchronously to handle and then dropped (spec §4.7,
// supplemented from
// .../ReliableUDP/UnreliableProcessMessageChannel.hpp — see SPEC_FULL.md
// §3 item 3). handle must not retain the message's Payload slice beyond
// the call.
type UnreliableProcessChannel struct {
	config     UnreliableChannelConfig
	errorLevel ErrorLevel
	sendQueue  chan ChannelMessage
	handle     func(ChannelMessage)
	counters   [CounterNumberOfCounters]uint64
}

func NewUnreliableProcessChannel(config UnreliableChannelConfig, handle func(ChannelMessage)) *UnreliableProcessChannel {
	return &UnreliableProcessChannel{
		config:    config,
		sendQueue: make(chan ChannelMessage, config.SendQueueSize),
		handle:    handle,
	}
}

func (c *UnreliableProcessChannel) Reset() {
	c.errorLevel = ErrorLevelNone
	for {
		select {
		case <-c.sendQueue:
		default:
			c.counters = [CounterNumberOfCounters]uint64{}
			return
		}
	}
}

func (c *UnreliableProcessChannel) ErrorLevel() ErrorLevel          { return c.errorLevel }
func (c *UnreliableProcessChannel) Counter(counter Counter) uint64 { return c.counters[counter] }

func (c *UnreliableProcessChannel) setErrorLevel(level ErrorLevel) {
	if level != c.errorLevel && level != ErrorLevelNone {
		log.Warningf("unreliable process channel %d went into error state: %s", c.config.ChannelIndex, level)
	}
	c.errorLevel = level
}

func (c *UnreliableProcessChannel) SendMessage(msg ChannelMessage) bool {
	if c.errorLevel != ErrorLevelNone {
		return false
	}
	select {
	case c.sendQueue <- msg:
		c.counters[CounterMessagesSent]++
		return true
	default:
		c.setErrorLevel(ErrorLevelSendQueueFull)
		return false
	}
}

func (c *UnreliableProcessChannel) GetPacketData(w *relay.WriteStream, availableBits int) int {
	if c.errorLevel != ErrorLevelNone {
		return 0
	}

	channelIndexBits := relay.BitsRequired(0, uint32(c.config.NumChannels))
	numberOfMessagesBits := relay.BitsRequired(0, uint32(c.config.MaxMessagesPerPacket))
	headerBits := channelIndexBits + 2 + numberOfMessagesBits
	if availableBits < headerBits {
		return 0
	}

	budget := availableBits - headerBits
	if c.config.PacketBudgetBytes > 0 && c.config.PacketBudgetBytes*8 < budget {
		budget = c.config.PacketBudgetBytes * 8
	}

	messages, usedBits := drainMessagesForPacket(c.sendQueue, c.config.MaxMessagesPerPacket, budget)
	if len(messages) == 0 {
		return 0
	}

	writeUnreliablePacketData(w, c.config.ChannelIndex, c.config.NumChannels, c.config.MaxMessagesPerPacket, messages)
	return headerBits + usedBits
}

// ProcessPacketData deserialises each message and hands it to handle
// synchronously, in wire order. There is no receive queue.
func (c *UnreliableProcessChannel) ProcessPacketData(r *relay.ReadStream, packetSeq uint16) bool {
	if c.errorLevel != ErrorLevelNone {
		return false
	}
	numMessages, ok := r.DeserialiseInteger(1, uint32(c.config.MaxMessagesPerPacket))
	if !ok {
		c.setErrorLevel(ErrorLevelFailedToSerialise)
		return false
	}
	for i := 0; i < int(numMessages); i++ {
		protocol, payload, ok := deserialiseMessage(r)
		if !ok {
			c.setErrorLevel(ErrorLevelFailedToSerialise)
			return false
		}
		c.counters[CounterMessagesReceived]++
		if c.handle != nil {
			c.handle(ChannelMessage{Protocol: protocol, ID: packetSeq, Payload: payload})
		}
	}
	return true
}
