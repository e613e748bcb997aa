package channel

import (
	"math"

	"github.com/hcoffman/relay"
)

// ReliableChannelConfig configures one instance of the reliable-ordered
// channel (spec §4.6, C6). Grounded on
// _examples/original_source/Network/include/ReliableUDP/ReliableOrderedMessageChannel.hpp's
// template parameters, turned into runtime fields the way the teacher's
// Config struct turns ReliableUDP's template parameters into fields.
type ReliableChannelConfig struct {
	// ChannelIndex/NumChannels are written/read as the channel_index field
	// of every packet-data block this channel produces.
	ChannelIndex int
	NumChannels  int

	MaxMessagesPerPacket    int
	MessageSendQueueSize    int
	MessageReceiveQueueSize int
	MessageSentQueueSize    int

	MaxFragments    int
	MaxFragmentSize int

	MessageResendTimeMs  float64
	FragmentResendTimeMs float64

	// PacketBudgetBytes caps how many bytes of available_bits this channel
	// will use per packet regardless of what the caller offers. <= 0
	// disables the cap (original's packet_budget < 0).
	PacketBudgetBytes int
}

// DefaultReliableChannelConfig returns the Typical values named in spec §6.
func DefaultReliableChannelConfig() ReliableChannelConfig {
	return ReliableChannelConfig{
		NumChannels:             1,
		MaxMessagesPerPacket:    256,
		MessageSendQueueSize:    1024,
		MessageReceiveQueueSize: 1024,
		MessageSentQueueSize:    1024,
		MaxFragments:            16,
		MaxFragmentSize:         1024,
		MessageResendTimeMs:     100,
		FragmentResendTimeMs:    250,
		PacketBudgetBytes:       -1,
	}
}

type messageSendEntry struct {
	message        ChannelMessage
	measuredBits   int
	isBlock        bool
	timeLastSentMs float64
}

type messageReceiveEntry struct {
	message ChannelMessage
}

// sentPacketEntry maps a packet-level sequence back to the messages or
// block fragment it carried, so process_ack can walk from packet acks to
// message/fragment acks (spec §3.4).
type sentPacketEntry struct {
	acked           bool
	block           bool
	messageIDs      []uint16
	blockMessageID  uint16
	blockFragmentID uint16
	timeSentMs      float64
}

// sendBlockData tracks the single in-flight outgoing block (only one block
// may be in flight at a time, spec §3.4/original's IMPORTANT comment).
type sendBlockData struct {
	active             bool
	blockSize          int
	blockMessageID     uint16
	numFragments       int
	numAckedFragments  int
	ackedFragment      []bool
	fragmentSendTimeMs []float64
}

func (b *sendBlockData) reset(maxFragments int) {
	b.active = false
	b.numFragments = 0
	b.numAckedFragments = 0
	b.blockMessageID = 0
	b.blockSize = 0
	b.ackedFragment = make([]bool, maxFragments)
	b.fragmentSendTimeMs = make([]float64, maxFragments)
}

// receiveBlockData tracks the single in-flight incoming block.
type receiveBlockData struct {
	active               bool
	numFragments         int
	numReceivedFragments int
	messageID            uint16
	blockSize            int
	receivedFragment     []bool
	blockData            []byte
	message              ChannelMessage
}

func (b *receiveBlockData) reset(maxFragments, maxFragmentSize int) {
	b.active = false
	b.numFragments = 0
	b.numReceivedFragments = 0
	b.messageID = 0
	b.blockSize = 0
	b.receivedFragment = make([]bool, maxFragments)
	b.blockData = make([]byte, maxFragments*maxFragmentSize)
	b.message = ChannelMessage{}
}

// ReliableChannel is the reliable-ordered message channel (C6): messages
// are acknowledged individually and may leave holes in the send queue,
// oversized messages ("block messages") are split into fragments tied to a
// single message id and sent one fragment per packet until acked.
type ReliableChannel struct {
	config ReliableChannelConfig

	errorLevel ErrorLevel

	sendMessageID          uint16
	receiveMessageID       uint16
	oldestUnackedMessageID uint16

	sentPackets  *relay.ReliableBuffer[sentPacketEntry]
	sendQueue    *relay.ReliableBuffer[messageSendEntry]
	receiveQueue *relay.ReliableBuffer[messageReceiveEntry]

	sendBlock    sendBlockData
	receiveBlock receiveBlockData

	counters [CounterNumberOfCounters]uint64
}

func NewReliableChannel(config ReliableChannelConfig) *ReliableChannel {
	c := &ReliableChannel{
		config:       config,
		sentPackets:  relay.NewReliableBuffer[sentPacketEntry](config.MessageSentQueueSize),
		sendQueue:    relay.NewReliableBuffer[messageSendEntry](config.MessageSendQueueSize),
		receiveQueue: relay.NewReliableBuffer[messageReceiveEntry](config.MessageReceiveQueueSize),
	}
	c.sendBlock.reset(config.MaxFragments)
	c.receiveBlock.reset(config.MaxFragments, config.MaxFragmentSize)
	return c
}

// Reset clears all channel state, as if newly constructed. Any messages
// still queued are dropped.
func (c *ReliableChannel) Reset() {
	c.errorLevel = ErrorLevelNone
	c.sendMessageID = 0
	c.receiveMessageID = 0
	c.oldestUnackedMessageID = 0
	c.sentPackets.ResetAll()
	c.sendQueue.ResetAll()
	c.receiveQueue.ResetAll()
	c.sendBlock.reset(c.config.MaxFragments)
	c.receiveBlock.reset(c.config.MaxFragments, c.config.MaxFragmentSize)
	c.counters = [CounterNumberOfCounters]uint64{}
}

func (c *ReliableChannel) ErrorLevel() ErrorLevel { return c.errorLevel }

func (c *ReliableChannel) setErrorLevel(level ErrorLevel) {
	if level != c.errorLevel && level != ErrorLevelNone {
		log.Warningf("reliable channel %d went into error state: %s", c.config.ChannelIndex, level)
	}
	c.errorLevel = level
}

func (c *ReliableChannel) Counter(counter Counter) uint64 { return c.counters[counter] }

// SendMessage enqueues msg for delivery, stamping its id. Returns false if
// the channel is already in an error state or the send queue is full (in
// which case the channel transitions to ErrorLevelSendQueueFull).
func (c *ReliableChannel) SendMessage(msg ChannelMessage) bool {
	if c.errorLevel != ErrorLevelNone {
		return false
	}
	if !c.canSendMessage() {
		c.setErrorLevel(ErrorLevelSendQueueFull)
		return false
	}

	msg.ID = c.sendMessageID
	entry, ok := c.sendQueue.Insert(c.sendMessageID)
	if !ok {
		c.setErrorLevel(ErrorLevelSendQueueFull)
		return false
	}

	entry.message = msg
	entry.isBlock = msg.IsBlock
	entry.timeLastSentMs = -1
	entry.measuredBits = measureMessageBits(len(msg.Payload))

	c.counters[CounterMessagesSent]++
	c.sendMessageID++
	return true
}

func (c *ReliableChannel) hasMessagesToSend() bool {
	return c.oldestUnackedMessageID != c.sendMessageID
}

func (c *ReliableChannel) canSendMessage() bool {
	return c.sendQueue.Available(c.sendMessageID)
}

func (c *ReliableChannel) sendingBlockMessage() bool {
	entry, ok := c.sendQueue.Find(c.oldestUnackedMessageID)
	return ok && entry.isBlock
}

// GetPacketData fills the given stream with either the next block fragment
// or as many regular messages as fit, and records a SentPacketEntry
// against packetSeq so a later ProcessAck can find it. Returns the number
// of bits written (0 if nothing was written).
//
// The available_bits vs channel_index_bits comparison here is the
// corrected direction: the original source (ReliableOrderedMessageChannel.hpp)
// has `if (available_bits > channel_index_bits) return 0;`, which rejects
// every call except when the budget is smaller than the channel index
// field itself — clearly inverted. Fixed to the sensible direction here;
// see DESIGN.md.
func (c *ReliableChannel) GetPacketData(w *relay.WriteStream, packetSeq uint16, availableBits int, nowMs float64) int {
	if c.errorLevel != ErrorLevelNone {
		return 0
	}
	if !c.hasMessagesToSend() {
		return 0
	}
	startBits := w.BitsWritten()

	channelIndexBits := relay.BitsRequired(0, uint32(c.config.NumChannels))
	if availableBits < channelIndexBits {
		return 0
	}
	availableBits -= channelIndexBits

	if c.sendingBlockMessage() {
		fragmentHeaderBits := c.config.MaxFragmentSize*8 + 1
		if availableBits < fragmentHeaderBits {
			return 0
		}
		availableBits -= fragmentHeaderBits

		fragmentID, fragmentBytes, numFragments, data, ok := c.getFragmentToSend(availableBits, nowMs)
		if !ok {
			return 0
		}

		w.SerialiseInteger(uint32(c.config.ChannelIndex), 0, uint32(maxInt(c.config.NumChannels-1, 0)))
		c.writeFragmentPacketData(w, fragmentID, fragmentBytes, numFragments, data)
		c.addFragmentPacketEntry(packetSeq, fragmentID, nowMs)
		return w.BitsWritten() - startBits
	}

	numberOfMessagesBits := relay.BitsRequired(0, uint32(c.config.MaxMessagesPerPacket))
	if availableBits < numberOfMessagesBits+2 {
		return 0
	}
	availableBits -= numberOfMessagesBits + 2

	messageIDs, _ := c.getMessagesToSend(availableBits, nowMs)
	if len(messageIDs) == 0 {
		return 0
	}

	w.SerialiseInteger(uint32(c.config.ChannelIndex), 0, uint32(maxInt(c.config.NumChannels-1, 0)))
	w.SerialiseBool(false) // block_message
	w.SerialiseBool(true)  // has_messages
	w.SerialiseInteger(uint32(len(messageIDs)), 1, uint32(c.config.MaxMessagesPerPacket))
	c.writeMessagePacketData(w, messageIDs)
	c.addMessagePacketEntry(messageIDs, packetSeq, nowMs)

	return w.BitsWritten() - startBits
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// getMessagesToSend walks forward from oldestUnackedMessageID, collecting
// messages eligible for (re)send under the resend-time and bit-budget
// constraints (spec §4.6 "Packet-data generation").
func (c *ReliableChannel) getMessagesToSend(availableBits int, nowMs float64) ([]uint16, int) {
	messageLimit := c.config.MessageSendQueueSize
	if c.config.MessageReceiveQueueSize < messageLimit {
		messageLimit = c.config.MessageReceiveQueueSize
	}
	giveUpBits := relay.BitsRequired(0, MaxMessageProtocol) + 4*8

	if c.config.PacketBudgetBytes > 0 && c.config.PacketBudgetBytes*8 < availableBits {
		availableBits = c.config.PacketBudgetBytes * 8
	}

	var messageIDs []uint16
	var previousMessageID uint16
	usedBits := 0
	giveUpCounter := 0

	for i := 0; i < messageLimit; i++ {
		if availableBits-usedBits < giveUpBits {
			break
		}
		if giveUpCounter > c.config.MessageSendQueueSize {
			break
		}

		messageID := c.oldestUnackedMessageID + uint16(i)
		entry, ok := c.sendQueue.Find(messageID)
		if !ok {
			continue
		}
		if entry.isBlock {
			break
		}

		if entry.timeLastSentMs+c.config.MessageResendTimeMs <= nowMs {
			messageBits := entry.measuredBits
			if len(messageIDs) == 0 {
				messageBits += 16
			} else {
				messageBits += relay.BitsForSequenceRelative(previousMessageID, messageID)
			}

			if usedBits+messageBits > availableBits {
				giveUpCounter++
				continue
			}

			usedBits += messageBits
			messageIDs = append(messageIDs, messageID)
			previousMessageID = messageID
			entry.timeLastSentMs = nowMs
		}

		if len(messageIDs) == c.config.MaxMessagesPerPacket {
			break
		}
	}

	return messageIDs, usedBits
}

// getFragmentToSend selects the next unacked, resend-eligible fragment of
// the block sitting at oldestUnackedMessageID, starting the block transfer
// if this is the first call for it.
func (c *ReliableChannel) getFragmentToSend(availableBits int, nowMs float64) (fragmentID uint16, fragmentBytes, numFragments int, data []byte, ok bool) {
	entry, found := c.sendQueue.Find(c.oldestUnackedMessageID)
	if !found || !entry.isBlock {
		return 0, 0, 0, nil, false
	}

	blockMessage := entry.message
	blockSize := blockMessage.BlockSize

	if !c.sendBlock.active {
		c.sendBlock.active = true
		c.sendBlock.blockSize = blockSize
		c.sendBlock.blockMessageID = blockMessage.ID
		c.sendBlock.numFragments = (blockSize + c.config.MaxFragmentSize - 1) / c.config.MaxFragmentSize
		c.sendBlock.numAckedFragments = 0
		c.sendBlock.ackedFragment = make([]bool, c.config.MaxFragments)
		c.sendBlock.fragmentSendTimeMs = make([]float64, c.config.MaxFragments)
	}

	numFragments = c.sendBlock.numFragments

	fragmentID = math.MaxUint16
	for i := 0; i < c.sendBlock.numFragments; i++ {
		if !c.sendBlock.ackedFragment[i] && c.sendBlock.fragmentSendTimeMs[i]+c.config.FragmentResendTimeMs < nowMs {
			fragmentID = uint16(i)
			break
		}
	}
	if fragmentID == math.MaxUint16 {
		return 0, 0, 0, nil, false
	}
	if fragmentID == 0 && availableBits < entry.measuredBits {
		return 0, 0, 0, nil, false
	}

	fragmentBytes = c.config.MaxFragmentSize
	remainder := blockSize % c.config.MaxFragmentSize
	if remainder != 0 && int(fragmentID) == c.sendBlock.numFragments-1 {
		fragmentBytes = remainder
	}

	start := blockMessage.BlockOffset + int(fragmentID)*c.config.MaxFragmentSize
	data = make([]byte, fragmentBytes)
	copy(data, blockMessage.Payload[start:start+fragmentBytes])

	c.sendBlock.fragmentSendTimeMs[fragmentID] = nowMs
	return fragmentID, fragmentBytes, numFragments, data, true
}

func (c *ReliableChannel) writeFragmentPacketData(w *relay.WriteStream, fragmentID uint16, fragmentBytes, numFragments int, data []byte) int {
	entry, _ := c.sendQueue.Find(c.oldestUnackedMessageID)

	w.SerialiseBool(true)
	w.SerialiseBits(uint32(entry.message.ID), 16)
	if c.config.MaxFragments > 1 {
		w.SerialiseInteger(uint32(numFragments), 1, uint32(c.config.MaxFragments))
	}
	if numFragments > 1 {
		w.SerialiseInteger(uint32(fragmentID), 0, uint32(numFragments-1))
	}
	w.SerialiseInteger(uint32(fragmentBytes), 1, uint32(c.config.MaxFragmentSize))
	w.SerialiseBytes(data)

	bits := 1 + 16 + fragmentBytes*8

	if fragmentID == 0 {
		prefix := entry.message.Payload[:entry.message.BlockOffset]
		serialiseMessage(w, entry.message.Protocol, prefix)
		bits += measureMessageBits(len(prefix))
	}

	return bits
}

func (c *ReliableChannel) writeMessagePacketData(w *relay.WriteStream, messageIDs []uint16) {
	for i, id := range messageIDs {
		if i == 0 {
			w.SerialiseBits(uint32(id), 16)
		} else {
			w.SerialiseSequenceRelative(messageIDs[i-1], id)
		}
	}
	for _, id := range messageIDs {
		entry, _ := c.sendQueue.Find(id)
		serialiseMessage(w, entry.message.Protocol, entry.message.Payload)
	}
}

func (c *ReliableChannel) addFragmentPacketEntry(packetSeq, fragmentID uint16, nowMs float64) {
	sendEntry, ok := c.sendQueue.Find(c.oldestUnackedMessageID)
	if !ok {
		return
	}
	sentEntry, ok := c.sentPackets.Insert(packetSeq)
	if !ok {
		return
	}
	sentEntry.acked = false
	sentEntry.block = true
	sentEntry.blockMessageID = sendEntry.message.ID
	sentEntry.blockFragmentID = fragmentID
	sentEntry.timeSentMs = nowMs
}

func (c *ReliableChannel) addMessagePacketEntry(messageIDs []uint16, packetSeq uint16, nowMs float64) {
	sentEntry, ok := c.sentPackets.Insert(packetSeq)
	if !ok {
		return
	}
	sentEntry.acked = false
	sentEntry.block = false
	sentEntry.messageIDs = append([]uint16(nil), messageIDs...)
	sentEntry.timeSentMs = nowMs
}

func (c *ReliableChannel) updateOldestUnackedMessageID() {
	stop := c.sendMessageID
	for c.oldestUnackedMessageID != stop {
		if _, ok := c.sendQueue.Find(c.oldestUnackedMessageID); ok {
			break
		}
		c.oldestUnackedMessageID++
	}
}

// ProcessAck walks from a packet-level ack to the message or fragment acks
// it implies (spec §4.6 "Acknowledgement handling").
func (c *ReliableChannel) ProcessAck(packetSeq uint16) {
	entry, ok := c.sentPackets.Find(packetSeq)
	if !ok || entry.acked {
		return
	}
	entry.acked = true

	for _, messageID := range entry.messageIDs {
		if _, exists := c.sendQueue.Find(messageID); exists {
			c.sendQueue.Remove(messageID)
			c.updateOldestUnackedMessageID()
		}
	}

	if entry.block && c.sendBlock.active && c.sendBlock.blockMessageID == entry.blockMessageID {
		fragmentID := entry.blockFragmentID
		if !c.sendBlock.ackedFragment[fragmentID] {
			c.sendBlock.ackedFragment[fragmentID] = true
			c.sendBlock.numAckedFragments++
			if c.sendBlock.numAckedFragments == c.sendBlock.numFragments {
				c.sendBlock.active = false
				c.sendQueue.Remove(entry.blockMessageID)
				c.updateOldestUnackedMessageID()
			}
		}
	}
}

// ProcessPacketData consumes the non-block message list produced by
// GetPacketData's "otherwise" branch (spec §4.6 "Packet-data consumption").
func (c *ReliableChannel) ProcessPacketData(r *relay.ReadStream, packetSeq uint16) bool {
	_ = packetSeq
	if c.errorLevel != ErrorLevelNone {
		return false
	}

	minMessageID := c.receiveMessageID
	maxMessageID := c.receiveMessageID + uint16(c.config.MessageReceiveQueueSize) - 1

	numMessages, ok := r.DeserialiseInteger(1, uint32(c.config.MaxMessagesPerPacket))
	if !ok {
		log.Debugf("failed to deserialise number of messages")
		c.setErrorLevel(ErrorLevelFailedToSerialise)
		return false
	}

	messageIDs := make([]uint16, numMessages)
	if numMessages > 0 {
		first, ok := r.DeserialiseBits(16)
		if !ok {
			log.Debugf("failed to deserialise first message id")
			c.setErrorLevel(ErrorLevelFailedToSerialise)
			return false
		}
		messageIDs[0] = uint16(first)
		for i := 1; i < int(numMessages); i++ {
			id, ok := r.DeserialiseSequenceRelative(messageIDs[i-1])
			if !ok {
				log.Debugf("failed to deserialise relative sequence at index %d", i)
				c.setErrorLevel(ErrorLevelFailedToSerialise)
				return false
			}
			messageIDs[i] = id
		}
	}

	for _, messageID := range messageIDs {
		protocol, payload, ok := deserialiseMessage(r)
		if !ok {
			log.Debugf("failed to deserialise message payload")
			c.setErrorLevel(ErrorLevelFailedToSerialise)
			return false
		}

		if relay.LessThan(messageID, minMessageID) {
			continue // already delivered
		}
		if relay.GreaterThan(messageID, maxMessageID) {
			log.Warningf("sequence overflow: %d vs [%d,%d] (forgot to drain the receive queue?)", messageID, minMessageID, maxMessageID)
			c.setErrorLevel(ErrorLevelDesync)
			return false
		}
		if c.receiveQueue.Exists(messageID) {
			continue
		}

		entry, ok := c.receiveQueue.Insert(messageID)
		if !ok {
			c.setErrorLevel(ErrorLevelDesync)
			return false
		}
		entry.message = ChannelMessage{Protocol: protocol, ID: messageID, Payload: payload}
		c.counters[CounterMessagesReceived]++
	}

	return true
}

// ProcessPacketFragment consumes one block fragment, reassembling the
// block and inserting it into the receive queue once complete (spec §4.6
// "Block receive").
func (c *ReliableChannel) ProcessPacketFragment(r *relay.ReadStream, packetSeq uint16) bool {
	_ = packetSeq
	if c.errorLevel != ErrorLevelNone {
		return false
	}

	messageIDBits, ok := r.DeserialiseBits(16)
	if !ok {
		c.setErrorLevel(ErrorLevelFailedToSerialise)
		return false
	}
	messageID := uint16(messageIDBits)

	numFragments := 1
	if c.config.MaxFragments > 1 {
		v, ok := r.DeserialiseInteger(1, uint32(c.config.MaxFragments))
		if !ok {
			c.setErrorLevel(ErrorLevelFailedToSerialise)
			return false
		}
		numFragments = int(v)
	}

	fragmentID := 0
	if numFragments > 1 {
		v, ok := r.DeserialiseInteger(0, uint32(numFragments-1))
		if !ok {
			c.setErrorLevel(ErrorLevelFailedToSerialise)
			return false
		}
		fragmentID = int(v)
	}

	fragmentBytes, ok := r.DeserialiseInteger(1, uint32(c.config.MaxFragmentSize))
	if !ok {
		c.setErrorLevel(ErrorLevelFailedToSerialise)
		return false
	}

	fragmentData := make([]byte, fragmentBytes)
	if !r.DeserialiseBytes(fragmentData, int(fragmentBytes)) {
		c.setErrorLevel(ErrorLevelFailedToSerialise)
		return false
	}

	var blockProtocol uint32
	var blockPrefix []byte
	if fragmentID == 0 {
		var decodeOK bool
		blockProtocol, blockPrefix, decodeOK = deserialiseMessage(r)
		if !decodeOK {
			c.setErrorLevel(ErrorLevelFailedToSerialise)
			return false
		}
	}

	if messageID != c.receiveMessageID {
		return true // stale or out-of-order fragment, drop silently
	}

	if !c.receiveBlock.active {
		c.receiveBlock.active = true
		c.receiveBlock.numFragments = numFragments
		c.receiveBlock.numReceivedFragments = 0
		c.receiveBlock.messageID = messageID
		c.receiveBlock.blockSize = 0
		for i := range c.receiveBlock.receivedFragment {
			c.receiveBlock.receivedFragment[i] = false
		}
	}

	if fragmentID >= c.receiveBlock.numFragments || numFragments != c.receiveBlock.numFragments {
		c.setErrorLevel(ErrorLevelDesync)
		return false
	}

	if c.receiveBlock.receivedFragment[fragmentID] {
		return true // duplicate fragment, drop
	}
	c.receiveBlock.receivedFragment[fragmentID] = true
	copy(c.receiveBlock.blockData[fragmentID*c.config.MaxFragmentSize:], fragmentData)

	if fragmentID == 0 {
		c.receiveBlock.message = ChannelMessage{Protocol: blockProtocol, Payload: blockPrefix}
	}

	if fragmentID == c.receiveBlock.numFragments-1 {
		c.receiveBlock.blockSize = (c.receiveBlock.numFragments-1)*c.config.MaxFragmentSize + int(fragmentBytes)
		if c.receiveBlock.blockSize > c.config.MaxFragmentSize*c.config.MaxFragments {
			c.setErrorLevel(ErrorLevelDesync)
			return false
		}
	}

	c.receiveBlock.numReceivedFragments++

	if c.receiveBlock.numReceivedFragments == c.receiveBlock.numFragments {
		if c.receiveQueue.Exists(messageID) {
			c.setErrorLevel(ErrorLevelDesync)
			return false
		}

		prefix := c.receiveBlock.message.Payload
		combined := make([]byte, len(prefix)+c.receiveBlock.blockSize)
		copy(combined, prefix)
		copy(combined[len(prefix):], c.receiveBlock.blockData[:c.receiveBlock.blockSize])

		entry, ok := c.receiveQueue.Insert(messageID)
		if !ok {
			c.setErrorLevel(ErrorLevelDesync)
			return false
		}
		entry.message = ChannelMessage{
			Protocol:    c.receiveBlock.message.Protocol,
			ID:          messageID,
			IsBlock:     true,
			BlockOffset: len(prefix),
			BlockSize:   c.receiveBlock.blockSize,
			Payload:     combined,
		}
		c.counters[CounterMessagesReceived]++

		c.receiveBlock.reset(c.config.MaxFragments, c.config.MaxFragmentSize)
	}

	return true
}

// ReceiveMessage dequeues the next in-order message, if present. Ownership
// of the envelope's payload transfers to the caller.
func (c *ReliableChannel) ReceiveMessage() (ChannelMessage, bool) {
	if c.errorLevel != ErrorLevelNone {
		return ChannelMessage{}, false
	}
	entry, ok := c.receiveQueue.Find(c.receiveMessageID)
	if !ok {
		return ChannelMessage{}, false
	}
	message := entry.message
	c.receiveQueue.Remove(c.receiveMessageID)
	c.receiveMessageID++
	return message, true
}
