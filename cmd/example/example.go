package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/hcoffman/relay"
	"golang.org/x/net/ipv4"
)

var endpoint *relay.Endpoint

var name = flag.String("name", "server", "name of connection")
var addr = flag.String("addr", "0.0.0.0:8987", "host and port of connection")
var dscp = flag.Int("dscp", 0, "DSCP/QoS class to tag outgoing packets with, 0 disables tagging")

// used by server
var packetConn net.PacketConn
var clients = map[string]net.Addr{}

// used by clients
var conn net.Conn

const tickrate = 20
const packetByteSize = 1024 / tickrate

var incoming = make(chan []byte, 1000)
var packetData = map[uint16][]byte{}

func main() {
	const bufferSize = packetByteSize + relay.MaxPacketHeaderBytes

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	flag.Parse()

	rand.Seed(time.Now().UnixNano())

	config := relay.NewDefaultConfig()
	config.Name = *name
	config.TransmitPacketFunction = transmitPacket
	config.ProcessPacketFunction = processPacket

	var err error
	if config.Name == "server" {
		config.Index = 1
		packetConn, err = net.ListenPacket("udp", *addr)
		if err != nil {
			log.Fatal(err)
		}
		defer packetConn.Close()
		applyDSCP(packetConn)

		go func() {
			for {
				buffer := make([]byte, bufferSize)
				n, addr, err := packetConn.ReadFrom(buffer)
				if err != nil {
					log.Fatal(err)
				}
				clients[addr.String()] = addr
				incoming <- buffer[:n]
			}
		}()

		log.Println("Server ready")

		// wait for first connection
		incoming <- <-incoming
	} else {
		config.Index = 2
		conn, err = net.Dial("udp", *addr)
		if err != nil {
			log.Fatal(err)
		}
		defer conn.Close()
		if pc, ok := conn.(net.PacketConn); ok {
			applyDSCP(pc)
		}

		go func() {
			for {
				buffer := make([]byte, bufferSize)
				n, err := conn.Read(buffer)
				if err != nil {
					log.Fatal(err)
				}
				incoming <- buffer[:n]
			}
		}()

		log.Println("Client ready")
	}

	endpoint, err = relay.NewEndpoint(config, now())
	if err != nil {
		log.Fatal(err)
	}

	networkTick := time.NewTicker(time.Second / tickrate)

	for {
		// process all incoming packets
	processIncoming:
		for {
			endpoint.Update(now())

			select {
			case d := <-incoming:
				endpoint.ReceivePacket(d)
			case <-networkTick.C:
				break processIncoming
			}
		}
		t := now()
		endpoint.Update(t)

		// clear the stored packets that have been acked
		_, acks := endpoint.GetAcks()
		for _, sequence := range acks {
			delete(packetData, sequence)
		}
		endpoint.ClearAcks()

		// resend packets that haven't been acked in over 150ms
		for sequence, data := range packetData {
			packet, found := endpoint.SentPackets.Find(sequence)
			if !found {
				// probably the packet was too old and was dropped?
				delete(packetData, sequence)
				continue
			}

			if t-packet.Time > .15 {
				fmt.Println("Resending packet", sequence)
				endpoint.SendPacket(data)
			}
		}

		// send new updates
		sequence := endpoint.NextPacketSequence()
		data := generatePacketData(sequence, make([]byte, packetByteSize))
		endpoint.SendPacket(data)
		packetData[sequence] = data

		sent, recved, acked := endpoint.Bandwidth()
		fmt.Printf("%v sent | %v received | %v acked | rtt = %vms | packet loss = %v%% | sent = %vkbps | recv = %vkbps | acked = %vkbps\n",
			endpoint.PacketsSent(),
			endpoint.PacketsReceived(),
			endpoint.PacketsAcked(),
			endpoint.Rtt(),
			int(math.Floor(endpoint.PacketLoss()+.5)),
			int(sent), int(recved), int(acked),
		)
		if int(math.Floor(endpoint.PacketLoss()+.5)) > 10 {
			return
		}
	}
}

// applyDSCP tags outgoing packets with the configured DSCP/QoS class (spec
// §6 "optional DSCP/QoS tagging"). A best-effort call: some platforms and
// connection types don't support setting the IPv4 TOS byte, so failures are
// logged, not fatal.
func applyDSCP(pc net.PacketConn) {
	if *dscp == 0 {
		return
	}
	pconn := ipv4.NewPacketConn(pc)
	if err := pconn.SetTOS(*dscp << 2); err != nil {
		log.Printf("could not set DSCP class %d: %v", *dscp, err)
	}
}

func transmitPacket(_ interface{}, index int, _ uint16, packetData []byte) {
	var n int
	var err error

	if rand.Intn(100) == 0 {
		// 1% packet loss
		return
	}

	if index == 1 {
		for _, addr := range clients {
			_, err = packetConn.WriteTo(packetData, addr)
			if err != nil {
				log.Fatal(err)
			}
		}
		return
	}
	n, err = conn.Write(packetData)
	if err != nil {
		log.Fatal(err)
	}
	if n < len(packetData) {
		log.Fatal("OOPS")
	}
}

func processPacket(_ interface{}, _ int, _ uint16, packetData []byte) bool {
	if packetData == nil || len(packetData) != packetByteSize {
		log.Fatal("invalid packet data")
	}

	if len(packetData) < 2 {
		log.Fatal("invalid packet data size")
	}

	var seq uint16
	seq |= uint16(packetData[0])
	seq |= uint16(packetData[1]) << 8
	expectedBytes := packetByteSize
	if len(packetData) != expectedBytes {
		log.Fatal("Size not right, expected ", expectedBytes, " got ", len(packetData))
	}
	expectedBuffer := make([]byte, expectedBytes)
	expectedBuffer = generatePacketData(seq, expectedBuffer)
	if !bytes.Equal(packetData[2:], expectedBuffer[2:expectedBytes]) {
		log.Fatal("Wrong packet data", packetData[2:])
	}

	return true
}

func generatePacketData(sequence uint16, packetData []byte) []byte {
	packetBytes := packetByteSize
	packetData[0] = byte(sequence & 0xFF)
	packetData[1] = byte((sequence >> 8) & 0xFF)
	for i := 2; i < packetBytes; i++ {
		packetData[i] = byte((i + int(sequence)) % 256)
	}
	return packetData[:packetBytes]
}

func now() float64 {
	return float64(time.Now().UnixNano()) / (1000 * 1000 * 1000)
}
