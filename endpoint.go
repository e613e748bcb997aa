package relay

import "math"

// Endpoint is the reliable-UDP connection (C5): per-connection send/receive
// state, fragmentation/reassembly, acknowledgement tracking, and the
// network-statistics suite. Grounded on the teacher's rely.go Endpoint,
// generalised onto the generic ReliableBuffer (C3) and extended with the
// full statistics suite named in SPEC_FULL.md §3 item 2
// (_examples/original_source/Network/include/ReliableUDP/Connection.hpp's
// CalculateMinMaxRoundTripTime/CalculateJitter/CalculatePacketLoss/
// CalculateSentBandwidth/CalculateReceivedBandwidth).
type Endpoint struct {
	Config *Config
	Time   float64

	rtt        float64
	packetLoss float64

	sentBandwidthKbps     float64
	receivedBandwidthKbps float64
	ackedBandwidthKbps    float64

	NumAcks int
	Acks    []uint16

	Sequence uint16

	SentPackets        *ReliableBuffer[SentPacketData]
	ReceivedPackets    *ReliableBuffer[ReceivedPacketData]
	FragmentReassembly *ReliableBuffer[FragmentReassemblyData]

	// rttHistory is the 512-slot circular RTT sample history (spec §4.5),
	// indexed by acked sequence mod RttHistorySize. NaN marks an empty slot.
	rttHistory []float64

	Counters [CounterMax]uint64
}

// NewEndpoint constructs an Endpoint, validating config first. It returns
// ErrInvalidConfig (wrapped with the offending detail) if config is
// unusable, e.g. a buffer size that would make the endpoint unable to hold
// a single packet.
func NewEndpoint(config *Config, time float64) (*Endpoint, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	history := make([]float64, config.RttHistorySize)
	for i := range history {
		history[i] = math.NaN()
	}
	return &Endpoint{
		Config:             config,
		Time:               time,
		SentPackets:        NewReliableBuffer[SentPacketData](config.SentPacketsBufferSize),
		ReceivedPackets:    NewReliableBuffer[ReceivedPacketData](config.ReceivedPacketsBufferSize),
		FragmentReassembly: NewReliableBuffer[FragmentReassemblyData](config.FragmentReassemblyBufferSize),
		Acks:               make([]uint16, config.AckBufferSize),
		rttHistory:         history,
	}, nil
}

func validateConfig(config *Config) error {
	if config.AckBufferSize <= 0 {
		return configError("AckBufferSize must be positive, got %d", config.AckBufferSize)
	}
	if config.SentPacketsBufferSize <= 0 {
		return configError("SentPacketsBufferSize must be positive, got %d", config.SentPacketsBufferSize)
	}
	if config.ReceivedPacketsBufferSize <= 0 {
		return configError("ReceivedPacketsBufferSize must be positive, got %d", config.ReceivedPacketsBufferSize)
	}
	if config.FragmentReassemblyBufferSize <= 0 {
		return configError("FragmentReassemblyBufferSize must be positive, got %d", config.FragmentReassemblyBufferSize)
	}
	if config.MaxPacketSize <= 0 {
		return configError("MaxPacketSize must be positive, got %d", config.MaxPacketSize)
	}
	if config.FragmentSize <= 0 {
		return configError("FragmentSize must be positive, got %d", config.FragmentSize)
	}
	if config.MaxFragments <= 0 || config.MaxFragments > MaxNumFragments {
		return configError("MaxFragments must be in [1, %d], got %d", MaxNumFragments, config.MaxFragments)
	}
	if config.TransmitPacketFunction == nil {
		return configError("TransmitPacketFunction must be set")
	}
	if config.ProcessPacketFunction == nil {
		return configError("ProcessPacketFunction must be set")
	}
	return nil
}

func (e *Endpoint) NextPacketSequence() uint16 {
	return e.Sequence
}

// SendPacket implements spec §4.5's send path.
func (e *Endpoint) SendPacket(packetData []byte) {
	packetBytes := len(packetData)
	if packetBytes > e.Config.MaxPacketSize {
		e.Counters[CounterNumPacketsTooLargeToSend]++
		return
	}

	sequence := e.Sequence
	e.Sequence++

	ack, ackBits := e.ReceivedPackets.GenerateAckBits()

	sentPacketData, _ := e.SentPackets.Insert(sequence)
	sentPacketData.Time = e.Time
	sentPacketData.PacketBytes = uint32(e.Config.PacketHeaderSize + packetBytes)
	sentPacketData.Acked = 0

	if packetBytes <= e.Config.FragmentAbove {
		log.Debugf("[%s] sending packet %d without fragmentation", e.Config.Name, sequence)
		transmitPacketData := newBuffer(packetBytes + MaxPacketHeaderBytes)
		_ = WritePacketHeader(transmitPacketData, sequence, ack, ackBits)
		transmitPacketData.writeBytes(packetData)
		e.Config.TransmitPacketFunction(e.Config.Context, e.Config.Index, sequence, transmitPacketData.bytes())
	} else {
		packetHeader := newBuffer(MaxPacketHeaderBytes)
		_ = WritePacketHeader(packetHeader, sequence, ack, ackBits)

		var extra int
		if packetBytes%e.Config.FragmentSize != 0 {
			extra = 1
		}
		numFragments := (packetBytes / e.Config.FragmentSize) + extra
		log.Debugf("[%s] sending packet %d as %d fragments", e.Config.Name, sequence, numFragments)
		fragmentBufferSize := FragmentHeaderBytes + MaxPacketHeaderBytes + e.Config.FragmentSize

		q := newBufferFromRef(packetData)
		p := newBuffer(fragmentBufferSize)

		for fragmentId := 0; fragmentId < numFragments; fragmentId++ {
			p.reset()
			p.writeUint8(1)
			p.writeUint16(sequence)
			p.writeUint8(uint8(fragmentId))
			p.writeUint8(uint8(numFragments - 1))

			if fragmentId == 0 {
				p.writeBytes(packetHeader.bytes())
			}

			bytesToCopy := e.Config.FragmentSize
			if q.pos+bytesToCopy > len(packetData) {
				bytesToCopy = len(packetData) - q.pos
			}
			b, _ := q.getBytes(bytesToCopy)
			p.writeBytes(b)

			e.Config.TransmitPacketFunction(e.Config.Context, e.Config.Index, sequence, p.bytes())
			e.Counters[CounterNumFragmentsSent]++
		}
	}
	e.Counters[CounterNumPacketsSent]++
}

// ReceivePacket implements spec §4.5's receive path.
func (e *Endpoint) ReceivePacket(packetData []byte) {
	if len(packetData) > e.Config.MaxPacketSize+MaxPacketHeaderBytes+FragmentHeaderBytes {
		log.Errorf("[%s] packet too large to receive. packet is %d bytes, maximum is %d", e.Config.Name, len(packetData), e.Config.MaxPacketSize)
		e.Counters[CounterNumPacketsTooLargeToReceive]++
		return
	}

	prefixByte := packetData[0]
	if (prefixByte & 1) == 0 {
		e.receiveRegularPacket(packetData)
	} else {
		e.receiveFragmentPacket(packetData)
	}
}

func (e *Endpoint) receiveRegularPacket(packetData []byte) {
	e.Counters[CounterNumPacketsReceived]++

	var sequence, ack uint16
	var ackBits uint32

	packetHeaderBytes := ReadPacketHeader(e.Config.Name, packetData, &sequence, &ack, &ackBits)
	if packetHeaderBytes < 0 {
		log.Errorf("[%s] ignoring invalid packet. could not read packet header", e.Config.Name)
		e.Counters[CounterNumPacketsInvalid]++
		return
	}

	if !e.ReceivedPackets.TestInsert(sequence) {
		log.Errorf("[%s] ignoring stale packet %d", e.Config.Name, sequence)
		e.Counters[CounterNumPacketsStale]++
		return
	}

	log.Debugf("[%s] processing packet %d", e.Config.Name, sequence)
	if !e.Config.ProcessPacketFunction(e.Config.Context, e.Config.Index, sequence, packetData[packetHeaderBytes:]) {
		return
	}
	log.Debugf("[%s] process packet %d successful", e.Config.Name, sequence)

	receivedPacketData, _ := e.ReceivedPackets.Insert(sequence)
	receivedPacketData.Time = e.Time
	receivedPacketData.PacketBytes = uint32(e.Config.PacketHeaderSize + len(packetData))

	for i := 0; i < 32; i++ {
		if ackBits&1 != 0 {
			ackSequence := ack - uint16(i)
			sentPacketData, found := e.SentPackets.Find(ackSequence)
			if found && sentPacketData.Acked == 0 {
				e.ackPacket(ackSequence, sentPacketData)
			}
		}
		ackBits >>= 1
	}
}

func (e *Endpoint) ackPacket(ackSequence uint16, sentPacketData *SentPacketData) {
	if e.NumAcks < e.Config.AckBufferSize {
		log.Debugf("[%s] acked packet %d", e.Config.Name, ackSequence)
		e.Acks[e.NumAcks] = ackSequence
		e.NumAcks++
	}
	e.Counters[CounterNumPacketsAcked]++
	sentPacketData.Acked = 1

	rtt := (e.Time - sentPacketData.Time) * 1000
	if e.rtt == 0 && rtt > 0 {
		e.rtt = rtt
	} else {
		e.rtt += (rtt - e.rtt) * e.Config.RttSmoothingFactor
	}
	if len(e.rttHistory) > 0 {
		e.rttHistory[int(ackSequence)%len(e.rttHistory)] = rtt
	}
}

func (e *Endpoint) receiveFragmentPacket(packetData []byte) {
	var fragmentId, numFragments, fragmentBytes int
	var sequence, ack uint16
	var ackBits uint32

	fragHeaderBytes := ReadFragmentHeader(e.Config.Name, packetData, e.Config.MaxFragments, e.Config.FragmentSize, &fragmentId, &numFragments, &fragmentBytes, &sequence, &ack, &ackBits)
	if fragHeaderBytes < 0 {
		log.Errorf("[%s] ignoring invalid fragment. could not read fragment header", e.Config.Name)
		e.Counters[CounterNumFragmentsInvalid]++
		return
	}

	reassemblyData, found := e.FragmentReassembly.Find(sequence)
	if !found {
		reassemblyData, found = e.FragmentReassembly.Insert(sequence)
		if !found {
			log.Errorf("[%s] ignoring invalid fragment. could not insert in reassembly buffer (stale)", e.Config.Name)
			e.Counters[CounterNumFragmentsInvalid]++
			return
		}

		packetBufferSize := MaxPacketHeaderBytes + numFragments*e.Config.FragmentSize
		reassemblyData.Sequence = sequence
		reassemblyData.Ack = 0
		reassemblyData.AckBits = 0
		reassemblyData.NumFragmentsReceived = 0
		reassemblyData.NumFragmentsTotal = numFragments
		reassemblyData.PacketData = make([]byte, packetBufferSize)
		reassemblyData.FragmentReceived = [MaxNumFragments]uint8{}
	}

	if numFragments != reassemblyData.NumFragmentsTotal {
		log.Errorf("[%s] ignoring invalid fragment. fragment count mismatch. expected %d, got %d", e.Config.Name, reassemblyData.NumFragmentsTotal, numFragments)
		e.Counters[CounterNumFragmentsInvalid]++
		return
	}

	if reassemblyData.FragmentReceived[fragmentId] != 0 {
		log.Errorf("[%s] ignoring fragment %d of packet %d. fragment already received", e.Config.Name, fragmentId, sequence)
		return
	}

	log.Debugf("[%s] received fragment %d of packet %d (%d/%d)", e.Config.Name, fragmentId, sequence, reassemblyData.NumFragmentsReceived+1, numFragments)
	reassemblyData.NumFragmentsReceived++
	reassemblyData.FragmentReceived[fragmentId] = 1
	reassemblyData.StoreFragmentData(sequence, ack, ackBits, fragmentId, e.Config.FragmentSize, packetData[fragHeaderBytes:])

	if reassemblyData.NumFragmentsReceived == reassemblyData.NumFragmentsTotal {
		log.Debugf("[%s] completed reassembly of packet %d", e.Config.Name, sequence)
		headerBytes := reassemblyData.PacketHeaderBytes
		// PacketBytes was captured from the tail fragment specifically
		// (StoreFragmentData), not recomputed from whichever fragment
		// happened to complete the set — fragmentBytes here is the size of
		// whichever fragment arrived last, which is only the tail's size
		// when the tail also happens to arrive last.
		e.ReceivePacket(reassemblyData.PacketData[MaxPacketHeaderBytes-headerBytes : MaxPacketHeaderBytes+reassemblyData.PacketBytes])
		e.FragmentReassembly.Remove(sequence)
	}

	e.Counters[CounterNumFragmentsReceived]++
}

func (e *Endpoint) GetAcks() (int, []uint16) {
	return e.NumAcks, e.Acks
}

func (e *Endpoint) ClearAcks() {
	e.NumAcks = 0
}

func (e *Endpoint) Reset() {
	e.ClearAcks()
	e.Sequence = 0
	e.SentPackets.Reset()
	e.ReceivedPackets.Reset()
	e.FragmentReassembly.Reset()
	for i := range e.rttHistory {
		e.rttHistory[i] = math.NaN()
	}
}

// Update recomputes the periodic statistics (spec §4.5 "Statistics").
func (e *Endpoint) Update(time float64) {
	e.Time = time
	e.updatePacketLoss()
	e.updateSentBandwidth()
	e.updateReceivedBandwidth()
	e.updateAckedBandwidth()
}

func (e *Endpoint) updatePacketLoss() {
	baseSequence := (e.SentPackets.Head() - uint16(e.Config.SentPacketsBufferSize) + 1) + 0xFFFF
	var numDropped int
	numSamples := e.Config.SentPacketsBufferSize / 2
	for i := 0; i < numSamples; i++ {
		sequence := baseSequence + uint16(i)
		sentPacketData, found := e.SentPackets.Find(sequence)
		if found && sentPacketData.Acked == 0 {
			numDropped++
		}
	}
	packetLoss := float64(numDropped) / float64(numSamples) * 100
	if math.Abs(e.packetLoss-packetLoss) > 0.00001 {
		e.packetLoss += (packetLoss - e.packetLoss) * e.Config.PacketLossSmoothingFactor
	} else {
		e.packetLoss = packetLoss
	}
}

// bandwidthWindow scans numSamples entries starting at baseSequence in buf,
// returning total bytes and the [start,finish] time span of present
// entries, or ok=false if nothing was found.
func bandwidthWindow[T any](buf *ReliableBuffer[T], baseSequence uint16, numSamples int, get func(*T) (float64, uint32)) (bytes int, start, finish float64, ok bool) {
	start = math.MaxFloat64
	for i := 0; i < numSamples; i++ {
		sequence := baseSequence + uint16(i)
		entry, found := buf.Find(sequence)
		if !found {
			continue
		}
		t, b := get(entry)
		bytes += int(b)
		if t < start {
			start = t
		}
		if t > finish {
			finish = t
		}
		ok = true
	}
	return
}

func (e *Endpoint) updateSentBandwidth() {
	baseSequence := e.SentPackets.Head() - uint16(e.Config.SentPacketsBufferSize) + 1
	numSamples := e.Config.SentPacketsBufferSize / 2
	bytesSent, start, finish, ok := bandwidthWindow(e.SentPackets, baseSequence, numSamples, func(d *SentPacketData) (float64, uint32) {
		return d.Time, d.PacketBytes
	})
	if !ok || finish == start {
		return
	}
	sentBandwidthKbps := float64(bytesSent) / (finish - start) * 8 / 1000
	if math.Abs(e.sentBandwidthKbps-sentBandwidthKbps) > 0.00001 {
		e.sentBandwidthKbps += (sentBandwidthKbps - e.sentBandwidthKbps) * e.Config.BandwidthSmoothingFactor
	} else {
		e.sentBandwidthKbps = sentBandwidthKbps
	}
}

func (e *Endpoint) updateReceivedBandwidth() {
	baseSequence := e.ReceivedPackets.Head() - uint16(e.Config.ReceivedPacketsBufferSize) + 1
	numSamples := e.Config.ReceivedPacketsBufferSize / 2
	bytesReceived, start, finish, ok := bandwidthWindow(e.ReceivedPackets, baseSequence, numSamples, func(d *ReceivedPacketData) (float64, uint32) {
		return d.Time, d.PacketBytes
	})
	if !ok || finish == start {
		return
	}
	receivedBandwidthKbps := float64(bytesReceived) / (finish - start) * 8 / 1000
	if math.Abs(e.receivedBandwidthKbps-receivedBandwidthKbps) > 0.00001 {
		e.receivedBandwidthKbps += (receivedBandwidthKbps - e.receivedBandwidthKbps) * e.Config.BandwidthSmoothingFactor
	} else {
		e.receivedBandwidthKbps = receivedBandwidthKbps
	}
}

func (e *Endpoint) updateAckedBandwidth() {
	baseSequence := e.SentPackets.Head() - uint16(e.Config.SentPacketsBufferSize) + 1
	numSamples := e.Config.ReceivedPacketsBufferSize / 2
	bytesAcked, start, finish, ok := bandwidthWindow(e.SentPackets, baseSequence, numSamples, func(d *SentPacketData) (float64, uint32) {
		if d.Acked == 0 {
			return 0, 0
		}
		return d.Time, d.PacketBytes
	})
	if !ok || finish == start {
		return
	}
	ackedBandwidthKbps := float64(bytesAcked) / (finish - start) * 8 / 1000
	if math.Abs(e.ackedBandwidthKbps-ackedBandwidthKbps) > 0.00001 {
		e.ackedBandwidthKbps += (ackedBandwidthKbps - e.ackedBandwidthKbps) * e.Config.BandwidthSmoothingFactor
	} else {
		e.ackedBandwidthKbps = ackedBandwidthKbps
	}
}

func (e *Endpoint) Rtt() float64 { return e.rtt }

func (e *Endpoint) PacketLoss() float64 { return e.packetLoss }

func (e *Endpoint) Bandwidth() (sent, received, acked float64) {
	return e.sentBandwidthKbps, e.receivedBandwidthKbps, e.ackedBandwidthKbps
}

// MinMaxRTT scans the RTT history ring and returns the minimum and maximum
// observed sample, or ok=false if no samples have been recorded yet.
// Supplemental, grounded on Connection.hpp's CalculateMinMaxRoundTripTime.
func (e *Endpoint) MinMaxRTT() (min, max float64, ok bool) {
	min = math.MaxFloat64
	max = -math.MaxFloat64
	for _, v := range e.rttHistory {
		if math.IsNaN(v) {
			continue
		}
		ok = true
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return
}

// Jitter returns the average and max deviation from the minimum RTT, and
// the standard deviation from the average RTT. Supplemental, grounded on
// Connection.hpp's CalculateJitter.
func (e *Endpoint) Jitter() (avgFromMin, maxFromMin, stdFromAvg float64) {
	min, _, ok := e.MinMaxRTT()
	if !ok {
		return 0, 0, 0
	}

	var sum, avg float64
	var count int
	for _, v := range e.rttHistory {
		if math.IsNaN(v) {
			continue
		}
		count++
		sum += v
		d := v - min
		avgFromMin += d
		if d > maxFromMin {
			maxFromMin = d
		}
	}
	if count == 0 {
		return 0, 0, 0
	}
	avgFromMin /= float64(count)
	avg = sum / float64(count)

	var variance float64
	for _, v := range e.rttHistory {
		if math.IsNaN(v) {
			continue
		}
		d := v - avg
		variance += d * d
	}
	variance /= float64(count)
	stdFromAvg = math.Sqrt(variance)
	return avgFromMin, maxFromMin, stdFromAvg
}

func (e *Endpoint) SentBandwidthKbps() float64     { return e.sentBandwidthKbps }
func (e *Endpoint) ReceivedBandwidthKbps() float64 { return e.receivedBandwidthKbps }
func (e *Endpoint) AckedBandwidthKbps() float64    { return e.ackedBandwidthKbps }
func (e *Endpoint) PacketLossPercent() float64     { return e.packetLoss }

const (
	CounterNumPacketsSent = iota
	CounterNumPacketsReceived
	CounterNumPacketsAcked
	CounterNumPacketsStale
	CounterNumPacketsInvalid
	CounterNumPacketsTooLargeToSend
	CounterNumPacketsTooLargeToReceive
	CounterNumFragmentsSent
	CounterNumFragmentsReceived
	CounterNumFragmentsInvalid
	CounterMax
)

func (e *Endpoint) PacketsSent() uint64     { return e.Counters[CounterNumPacketsSent] }
func (e *Endpoint) PacketsReceived() uint64 { return e.Counters[CounterNumPacketsReceived] }
func (e *Endpoint) PacketsAcked() uint64    { return e.Counters[CounterNumPacketsAcked] }
