package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hcoffman/relay"
	"github.com/hcoffman/relay/channel"
	"github.com/hcoffman/relay/replay"
	"github.com/op/go-logging"
)

var globalTime float64 = 100

var endpoint relay.Endpoint
var reliableChannel *channel.ReliableChannel
var unreliableChannel *channel.UnreliableUnorderedChannel
var replayWindow *replay.Window

func main() {
	logging.SetLevel(logging.CRITICAL, "relay")

	numIterations := -1

	if len(os.Args) > 1 {
		var err error
		numIterations, err = strconv.Atoi(os.Args[1])
		if err != nil {
			panic("argument 2 must be an integer")
		}
	}

	initialize()

	var quit bool

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT)

	go func() {
		<-signals
		quit = true
		close(signals)
	}()

	deltaTime := .1

	if numIterations > 0 {
		for i := 0; i < numIterations; i++ {
			if quit {
				break
			}

			iteration(globalTime)
			globalTime += deltaTime
		}
	} else {
		for i := 0; !quit; i++ {
			iteration(globalTime)
			globalTime += deltaTime
		}
	}
}

func initialize() {
	config := relay.NewDefaultConfig()

	config.Index = 0
	config.TransmitPacketFunction = testTransmitPacketFunction
	config.ProcessPacketFunction = testProcessPacketFunction

	e, err := relay.NewEndpoint(config, globalTime)
	if err != nil {
		panic(err)
	}
	endpoint = *e

	reliableChannel = channel.NewReliableChannel(channel.DefaultReliableChannelConfig())
	unreliableChannel = channel.NewUnreliableUnorderedChannel(channel.DefaultUnreliableChannelConfig())

	replayWindow, err = replay.NewWindow(256)
	if err != nil {
		panic(err)
	}
}

func iteration(time float64) {
	fmt.Print(".")

	fuzzEndpoint(time)
	fuzzReliableChannel(time)
	fuzzUnreliableChannel()
	fuzzReplayWindow()
}

// fuzzEndpoint feeds garbage straight into ReceivePacket, the same surface
// the original fuzz target exercised: the packet/fragment header parser
// must reject malformed input without panicking.
func fuzzEndpoint(time float64) {
	packetData := make([]byte, testMaxPacketBytes)
	packetBytes := rand.Intn(testMaxPacketBytes-1) + 1
	for i := 0; i < packetBytes; i++ {
		packetData[i] = byte(rand.Int() % 256)
	}

	endpoint.ReceivePacket(packetData[:packetBytes])
	endpoint.Update(time)
	endpoint.ClearAcks()
}

// fuzzReliableChannel feeds garbage at the bit-stream entry points a real
// multiplexer would route to: ProcessPacketData and ProcessPacketFragment
// must fail closed (setting an ErrorLevel) rather than panicking on
// malformed length/count fields.
func fuzzReliableChannel(time float64) {
	if reliableChannel.ErrorLevel() != channel.ErrorLevelNone {
		reliableChannel.Reset()
	}

	packetData := make([]byte, 256)
	rand.Read(packetData)
	r := relay.NewReadStream(packetData, len(packetData)*8)

	if rand.Intn(2) == 0 {
		reliableChannel.ProcessPacketData(r, uint16(rand.Intn(65536)))
	} else {
		reliableChannel.ProcessPacketFragment(r, uint16(rand.Intn(65536)))
	}
}

func fuzzUnreliableChannel() {
	if unreliableChannel.ErrorLevel() != channel.ErrorLevelNone {
		unreliableChannel.Reset()
	}

	packetData := make([]byte, 128)
	rand.Read(packetData)
	r := relay.NewReadStream(packetData, len(packetData)*8)
	unreliableChannel.ProcessPacketData(r, uint16(rand.Intn(65536)))
}

// fuzzReplayWindow hammers the sliding window with random (not monotonic)
// sequences, the way an attacker replaying captured packets out of order
// would.
func fuzzReplayWindow() {
	sequence := uint64(rand.Int63())
	if !replayWindow.AlreadyReceived(sequence) {
		replayWindow.AdvanceSequence(sequence)
	}
}

func testTransmitPacketFunction(_ interface{}, _ int, _ uint16, _ []byte) {}

const testMaxPacketBytes = 16 * 1024

func testProcessPacketFunction(_ interface{}, _ int, _ uint16, _ []byte) bool {
	return true
}
