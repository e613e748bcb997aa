package relay

import "math/bits"

// BitsRequired returns ceil(log2(max-min+1)), the number of bits needed to
// encode any value in [min, max]. Grounded on
// _examples/original_source/Serialisation/include/SerialiseBit.hpp's
// BitsRequired template.
func BitsRequired(min, max uint32) int {
	if min == max {
		return 0
	}
	span := max - min
	return bits.Len32(span)
}

// WriteStream is the typed serialisation layer over BitWriter. Grounded on
// _examples/original_source/Serialisation/source/WriteStream.cpp.
type WriteStream struct {
	writer *BitWriter
}

func NewWriteStream(buf []byte, numBits int) *WriteStream {
	return &WriteStream{writer: NewBitWriter(buf, numBits)}
}

// SerialiseInteger writes value - min using BitsRequired(min, max) bits.
func (s *WriteStream) SerialiseInteger(value, min, max uint32) {
	if value < min || value > max {
		panic("relay: SerialiseInteger value out of range")
	}
	bitsNeeded := BitsRequired(min, max)
	if bitsNeeded == 0 {
		return
	}
	s.writer.WriteBits(value-min, bitsNeeded)
}

// SerialiseSignedInteger writes a signed value in [min,max] via zig-zag
// remapping to an unsigned range, then SerialiseInteger. Supplemental
// feature grounded on SerialiseBit.hpp's ZigZagEncodeSignedToUnsigned.
func (s *WriteStream) SerialiseSignedInteger(value, min, max int32) {
	zigzagMax := zigZagEncode(max - min)
	s.SerialiseInteger(zigZagEncode(value-min), 0, zigzagMax)
}

func zigZagEncode(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

func zigZagDecode(v uint32) int32 {
	return int32(v>>1) ^ -int32(v&1)
}

// SerialiseBits writes the raw b-bit field v.
func (s *WriteStream) SerialiseBits(v uint32, b int) {
	s.writer.WriteBits(v, b)
}

// SerialiseBool writes a single bit.
func (s *WriteStream) SerialiseBool(v bool) {
	if v {
		s.writer.WriteBits(1, 1)
	} else {
		s.writer.WriteBits(0, 1)
	}
}

// SerialiseAlign pads to the next byte boundary.
func (s *WriteStream) SerialiseAlign() {
	s.writer.WriteAlign()
}

// SerialiseBytes aligns to a byte boundary and copies n bytes.
func (s *WriteStream) SerialiseBytes(data []byte) {
	s.SerialiseAlign()
	s.writer.WriteBytes(data)
}

// relativeTiers16 and relativeTiers32 hold the prefix-length scheme in spec
// §4.2 for the 16-bit (channel message id) and 32-bit variants. Each tier is
// (maxDelta, valueBits); the flag-chain prefix for tier i is i zero bits
// followed by a single 1 bit. A delta outside every tier (the "otherwise"
// case) is written as one zero bit per tier followed by the delta at full
// width.
type relativeTier struct {
	maxDelta uint32
	bits     int
}

var relativeTiers16 = []relativeTier{
	{1, 0},
	{5, 2},
	{21, 4},
	{277, 8},
	{4373, 12},
}

var relativeTiers32 = []relativeTier{
	{1, 0},
	{5, 2},
	{21, 4},
	{277, 8},
	{4373, 12},
	{69909, 16},
}

// SerialiseSequenceRelative encodes delta = (cur - prev) mod 2^16 using the
// tiered flag-chain scheme from spec §4.2, decided in SPEC_FULL.md §4.1 to
// be the single encoding used uniformly (superseding the source's
// overlapping DeserialiseSequenceRelative/DeserialiseUnsignedIntegerRelative
// split).
func (s *WriteStream) SerialiseSequenceRelative(prev, cur uint16) {
	delta := uint32(cur - prev)
	s.serialiseRelative(delta, relativeTiers16, 16)
}

// SerialiseUnsignedIntegerRelative is the 32-bit-width variant of the same
// scheme, reserved for components that relative-encode 32-bit sequences.
func (s *WriteStream) SerialiseUnsignedIntegerRelative(prev, cur uint32) {
	delta := cur - prev
	s.serialiseRelative(delta, relativeTiers32, 32)
}

func (s *WriteStream) serialiseRelative(delta uint32, tiers []relativeTier, fullWidth int) {
	for i, tier := range tiers {
		if delta >= 1 && delta <= tier.maxDelta {
			for j := 0; j < i; j++ {
				s.writer.WriteBits(0, 1)
			}
			s.writer.WriteBits(1, 1)
			if tier.bits > 0 {
				s.writer.WriteBits(delta-prevTierFloor(tiers, i), tier.bits)
			}
			return
		}
	}
	for range tiers {
		s.writer.WriteBits(0, 1)
	}
	s.writer.WriteBits(delta, fullWidth)
}

// prevTierFloor returns one past the previous tier's maxDelta (1 for i==0),
// so each tier encodes an offset within its own sub-range.
func prevTierFloor(tiers []relativeTier, i int) uint32 {
	if i == 0 {
		return 1
	}
	return tiers[i-1].maxDelta + 1
}

// BitsForSequenceRelative returns the number of bits
// SerialiseSequenceRelative(prev, cur) would write, without writing
// anything. Callers that must budget space before committing to a write
// (the reliable-ordered channel's message-packing loop) use this instead
// of a write-then-discard probe.
func BitsForSequenceRelative(prev, cur uint16) int {
	delta := uint32(cur - prev)
	return bitsForRelative(delta, relativeTiers16, 16)
}

func bitsForRelative(delta uint32, tiers []relativeTier, fullWidth int) int {
	for i, tier := range tiers {
		if delta >= 1 && delta <= tier.maxDelta {
			return i + 1 + tier.bits
		}
	}
	return len(tiers) + fullWidth
}

// BytesWritten / Flush expose the underlying writer for packet assembly.
func (s *WriteStream) Flush()            { s.writer.FlushBits() }
func (s *WriteStream) BytesWritten() int { return s.writer.BytesWritten() }
func (s *WriteStream) BitsWritten() int  { return s.writer.BitsWritten() }

// ReadStream mirrors WriteStream. Grounded on
// _examples/original_source/Serialisation/source/ReadStream.cpp.
type ReadStream struct {
	reader *BitReader
}

func NewReadStream(buf []byte, numBits int) *ReadStream {
	return &ReadStream{reader: NewBitReader(buf, numBits)}
}

func (s *ReadStream) DeserialiseInteger(min, max uint32) (uint32, bool) {
	bitsNeeded := BitsRequired(min, max)
	if bitsNeeded == 0 {
		return min, true
	}
	v, ok := s.reader.ReadBits(bitsNeeded)
	if !ok {
		return 0, false
	}
	return v + min, true
}

func (s *ReadStream) DeserialiseSignedInteger(min, max int32) (int32, bool) {
	zigzagMax := zigZagEncode(max - min)
	v, ok := s.DeserialiseInteger(0, zigzagMax)
	if !ok {
		return 0, false
	}
	return zigZagDecode(v) + min, true
}

func (s *ReadStream) DeserialiseBits(b int) (uint32, bool) {
	return s.reader.ReadBits(b)
}

func (s *ReadStream) DeserialiseBool() (bool, bool) {
	v, ok := s.reader.ReadBits(1)
	return v != 0, ok
}

func (s *ReadStream) DeserialiseAlign() bool {
	return s.reader.ReadAlign()
}

func (s *ReadStream) DeserialiseBytes(dst []byte, n int) bool {
	if !s.DeserialiseAlign() {
		return false
	}
	return s.reader.ReadBytes(dst, n)
}

func (s *ReadStream) DeserialiseSequenceRelative(prev uint16) (uint16, bool) {
	delta, ok := s.deserialiseRelative(relativeTiers16, 16)
	if !ok {
		return 0, false
	}
	return prev + uint16(delta), true
}

func (s *ReadStream) DeserialiseUnsignedIntegerRelative(prev uint32) (uint32, bool) {
	delta, ok := s.deserialiseRelative(relativeTiers32, 32)
	if !ok {
		return 0, false
	}
	return prev + delta, true
}

func (s *ReadStream) deserialiseRelative(tiers []relativeTier, fullWidth int) (uint32, bool) {
	for i, tier := range tiers {
		flag, ok := s.reader.ReadBits(1)
		if !ok {
			return 0, false
		}
		if flag != 0 {
			if tier.bits == 0 {
				return 1, true
			}
			offset, ok := s.reader.ReadBits(tier.bits)
			if !ok {
				return 0, false
			}
			return offset + prevTierFloor(tiers, i), true
		}
	}
	return s.reader.ReadBits(fullWidth)
}

func (s *ReadStream) BitsRead() int { return s.reader.BitsRead() }
