package relay

// Config holds per-endpoint configuration shared by both peers at connection
// setup. Every field here is a compile-time constant in the original
// ReliableUDP engine; it stays runtime-configurable in Go but callers
// should not change it after NewEndpoint.
type Config struct {
	Name    string
	Context interface{}
	Index   int

	MaxPacketSize int
	FragmentAbove int
	MaxFragments  int
	FragmentSize  int

	AckBufferSize                int
	SentPacketsBufferSize        int
	ReceivedPacketsBufferSize    int
	FragmentReassemblyBufferSize int
	RttHistorySize               int

	RttSmoothingFactor        float64
	PacketLossSmoothingFactor float64
	BandwidthSmoothingFactor  float64

	// PacketHeaderSize is added to every SentPacketData/ReceivedPacketData
	// PacketBytes to account for IP+UDP overhead not present in the
	// application payload, so bandwidth/loss stats reflect link cost
	// rather than payload size alone.
	PacketHeaderSize int

	// MessageResendTimeMs/FragmentResendTimeMs and the message/queue sizes
	// below carry the channel defaults (spec §5 "Cancellation and timeouts").
	// Endpoint does not read them, and the channel package does not read
	// them either: its channels take these values from their own
	// ReliableChannelConfig/UnreliableChannelConfig.
	MessageResendTimeMs  float64
	FragmentResendTimeMs float64

	MaxMessagesPerPacket       int
	MessageSendQueueSize       int
	MessageReceiveQueueSize    int
	UnreliableSendQueueSize    int
	UnreliableReceiveQueueSize int

	// TransmitPacketFunction is called by SendPacket to do the actual
	// transmitting of packets.
	TransmitPacketFunction func(interface{}, int, uint16, []byte)
	// ProcessPacketFunction is called by ReceivePacket once a fully
	// assembled packet is received.
	ProcessPacketFunction func(interface{}, int, uint16, []byte) bool
	// Allocate is a hook for custom memory allocation. Endpoint does not
	// call it; its buffers are allocated with make.
	Allocate func(int) []byte
	// Free is a hook for custom memory allocation. Endpoint does not call
	// it.
	Free func([]byte)
}

// NewDefaultConfig returns the Typical values named in the external
// interfaces table.
func NewDefaultConfig() *Config {
	return &Config{
		Name:                         "endpoint",
		MaxPacketSize:                16 * 1024,
		FragmentAbove:                1024,
		MaxFragments:                 16,
		FragmentSize:                 1024,
		AckBufferSize:                256,
		SentPacketsBufferSize:        256,
		ReceivedPacketsBufferSize:    256,
		FragmentReassemblyBufferSize: 64,
		RttHistorySize:               512,
		RttSmoothingFactor:           .0025,
		PacketLossSmoothingFactor:    .1,
		BandwidthSmoothingFactor:     .1,
		PacketHeaderSize:             28, // UDP over IPv4 = 20 + 8 bytes; IPv6 = 40 + 8
		MessageResendTimeMs:          100,
		FragmentResendTimeMs:         250,
		MaxMessagesPerPacket:         256,
		MessageSendQueueSize:         1024,
		MessageReceiveQueueSize:      1024,
		UnreliableSendQueueSize:      1024,
		UnreliableReceiveQueueSize:   1024,
	}
}
