package channel

import (
	"testing"

	"github.com/hcoffman/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeUnreliablePacket(t *testing.T, buf []byte, numChannels int) (channelIndex uint32, block, hasMessages bool, r *relay.ReadStream) {
	t.Helper()
	r = relay.NewReadStream(buf, len(buf)*8)
	channelIndex, ok := r.DeserialiseInteger(0, uint32(maxInt(numChannels-1, 0)))
	require.True(t, ok)
	block, ok = r.DeserialiseBool()
	require.True(t, ok)
	hasMessages, ok = r.DeserialiseBool()
	require.True(t, ok)
	return channelIndex, block, hasMessages, r
}

func TestUnreliableUnorderedChannelSendReceiveRoundTrip(t *testing.T) {
	cfg := DefaultUnreliableChannelConfig()
	sender := NewUnreliableUnorderedChannel(cfg)
	receiver := NewUnreliableUnorderedChannel(cfg)

	require.True(t, sender.SendMessage(ChannelMessage{Protocol: 3, Payload: []byte("ping")}))
	require.True(t, sender.SendMessage(ChannelMessage{Protocol: 4, Payload: []byte("pong")}))

	buf := make([]byte, 512)
	w := relay.NewWriteStream(buf, len(buf)*8)
	bits := sender.GetPacketData(w, len(buf)*8)
	require.Greater(t, bits, 0)
	w.Flush()

	_, block, hasMessages, r := decodeUnreliablePacket(t, buf, cfg.NumChannels)
	assert.False(t, block)
	assert.True(t, hasMessages)

	require.True(t, receiver.ProcessPacketData(r, 0))

	msg1, ok := receiver.ReceiveMessage()
	require.True(t, ok)
	assert.Equal(t, uint32(3), msg1.Protocol)
	assert.Equal(t, []byte("ping"), msg1.Payload)

	msg2, ok := receiver.ReceiveMessage()
	require.True(t, ok)
	assert.Equal(t, uint32(4), msg2.Protocol)
	assert.Equal(t, []byte("pong"), msg2.Payload)

	_, ok = receiver.ReceiveMessage()
	assert.False(t, ok)
}

func TestUnreliableUnorderedChannelGetPacketDataEmptyWhenNothingQueued(t *testing.T) {
	cfg := DefaultUnreliableChannelConfig()
	sender := NewUnreliableUnorderedChannel(cfg)
	buf := make([]byte, 256)
	w := relay.NewWriteStream(buf, len(buf)*8)
	bits := sender.GetPacketData(w, len(buf)*8)
	assert.Equal(t, 0, bits)
}

func TestUnreliableUnorderedChannelSendQueueFullSetsError(t *testing.T) {
	cfg := DefaultUnreliableChannelConfig()
	cfg.SendQueueSize = 2
	c := NewUnreliableUnorderedChannel(cfg)

	require.True(t, c.SendMessage(ChannelMessage{Protocol: 1, Payload: []byte("a")}))
	require.True(t, c.SendMessage(ChannelMessage{Protocol: 2, Payload: []byte("b")}))
	assert.False(t, c.SendMessage(ChannelMessage{Protocol: 3, Payload: []byte("c")}))
	assert.Equal(t, ErrorLevelSendQueueFull, c.ErrorLevel())
}

func TestUnreliableUnorderedChannelResetClearsQueuesAndError(t *testing.T) {
	cfg := DefaultUnreliableChannelConfig()
	cfg.SendQueueSize = 1
	c := NewUnreliableUnorderedChannel(cfg)
	require.True(t, c.SendMessage(ChannelMessage{Protocol: 1, Payload: []byte("a")}))
	c.SendMessage(ChannelMessage{Protocol: 2, Payload: []byte("b")}) // overflow, sets error
	require.Equal(t, ErrorLevelSendQueueFull, c.ErrorLevel())

	c.Reset()
	assert.Equal(t, ErrorLevelNone, c.ErrorLevel())
	assert.True(t, c.SendMessage(ChannelMessage{Protocol: 9, Payload: []byte("x")}))
}

func TestUnreliableProcessChannelDispatchesSynchronously(t *testing.T) {
	cfg := DefaultUnreliableChannelConfig()
	var received []ChannelMessage
	receiver := NewUnreliableProcessChannel(cfg, func(msg ChannelMessage) {
		received = append(received, msg)
	})
	sender := NewUnreliableProcessChannel(cfg, nil)

	require.True(t, sender.SendMessage(ChannelMessage{Protocol: 11, Payload: []byte("x")}))

	buf := make([]byte, 256)
	w := relay.NewWriteStream(buf, len(buf)*8)
	bits := sender.GetPacketData(w, len(buf)*8)
	require.Greater(t, bits, 0)
	w.Flush()

	_, block, hasMessages, r := decodeUnreliablePacket(t, buf, cfg.NumChannels)
	assert.False(t, block)
	assert.True(t, hasMessages)

	require.True(t, receiver.ProcessPacketData(r, 0))
	require.Len(t, received, 1)
	assert.Equal(t, uint32(11), received[0].Protocol)
	assert.Equal(t, uint64(1), receiver.Counter(CounterMessagesReceived))
}
