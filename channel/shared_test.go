package channel

import (
	"testing"

	"github.com/hcoffman/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialiseMessageRoundTrip(t *testing.T) {
	buf := make([]byte, 256)
	w := relay.NewWriteStream(buf, len(buf)*8)
	serialiseMessage(w, 42, []byte("hello world"))
	w.Flush()

	r := relay.NewReadStream(buf, len(buf)*8)
	protocol, payload, ok := deserialiseMessage(r)
	require.True(t, ok)
	assert.Equal(t, uint32(42), protocol)
	assert.Equal(t, []byte("hello world"), payload)
}

func TestSerialiseMessageEmptyPayload(t *testing.T) {
	buf := make([]byte, 64)
	w := relay.NewWriteStream(buf, len(buf)*8)
	serialiseMessage(w, 0, nil)
	w.Flush()

	r := relay.NewReadStream(buf, len(buf)*8)
	protocol, payload, ok := deserialiseMessage(r)
	require.True(t, ok)
	assert.Equal(t, uint32(0), protocol)
	assert.Empty(t, payload)
}

func TestErrorLevelString(t *testing.T) {
	assert.Equal(t, "none", ErrorLevelNone.String())
	assert.Equal(t, "desync", ErrorLevelDesync.String())
	assert.Equal(t, "send queue full", ErrorLevelSendQueueFull.String())
	assert.Equal(t, "failed to serialise", ErrorLevelFailedToSerialise.String())
	assert.Equal(t, "out of memory", ErrorLevelOutOfMemory.String())
}

func TestMeasureMessageBitsGrowsWithPayload(t *testing.T) {
	small := measureMessageBits(1)
	large := measureMessageBits(100)
	assert.Less(t, small, large)
}
