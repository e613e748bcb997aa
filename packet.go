package relay

// SentPacketData is stored in a ReliableBuffer sized for the send window
// (spec §3.3).
type SentPacketData struct {
	Time        float64
	Acked       uint32 // use only 1 bit
	PacketBytes uint32 // use only 31 bits
}

// ReceivedPacketData is stored in a ReliableBuffer sized for the receive
// window.
type ReceivedPacketData struct {
	Time        float64
	PacketBytes uint32
}

// FragmentReassemblyData is one per in-flight incoming fragmented packet,
// owned by a ReliableBuffer indexed by packet sequence.
type FragmentReassemblyData struct {
	Sequence             uint16
	Ack                  uint16
	AckBits              uint32
	NumFragmentsReceived int
	NumFragmentsTotal    int
	PacketData           []byte
	PacketHeaderBytes    int
	// PacketBytes is the reassembled packet's true length, captured from
	// the tail fragment (fragmentId == NumFragmentsTotal-1) when it
	// arrives, since only the tail fragment's byte count reflects the
	// original payload length — every other fragment is exactly
	// fragmentSize bytes regardless of arrival order.
	PacketBytes      int
	FragmentReceived [MaxNumFragments]uint8
}

// StoreFragmentData copies one fragment's payload into the reassembly
// buffer at its offset, writing the embedded packet header ahead of
// fragment 0's payload the way the sender embedded it.
func (f *FragmentReassemblyData) StoreFragmentData(sequence, ack uint16, ackBits uint32, fragmentId, fragmentSize int, fragmentData []byte) {
	if fragmentId == 0 {
		packetHeader := newBuffer(MaxPacketHeaderBytes)
		f.PacketHeaderBytes = WritePacketHeader(packetHeader, sequence, ack, ackBits)
		copy(f.PacketData[MaxPacketHeaderBytes-f.PacketHeaderBytes:], packetHeader.bytes())
		fragmentData = fragmentData[f.PacketHeaderBytes:]
	}

	if fragmentId == f.NumFragmentsTotal-1 {
		f.PacketBytes = fragmentId*fragmentSize + len(fragmentData)
	}

	copy(f.PacketData[MaxPacketHeaderBytes+fragmentId*fragmentSize:], fragmentData)
}
