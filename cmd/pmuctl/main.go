// Command pmuctl is a host-side client for the Framed Transport (spec
// §4.H/§6): it opens a serial link to a running pmucored instance and
// issues one request/response command, the same shape as the
// teacher's cmd/sdo_client issuing one-shot SDO reads/writes against
// a Network, generalized from object-dictionary index/subindex pairs
// to framed-transport channel ids and commands.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	serial "github.com/daedaluz/goserial"

	"github.com/fleetwire/pmucore/internal/clock"
	"github.com/fleetwire/pmucore/pkg/transport"
)

const requestTimeout = 2 * time.Second

func main() {
	log.SetLevel(log.WarnLevel)

	port := flag.String("port", "/dev/ttyUSB0", "serial device connected to pmucored")
	cmd := flag.String("cmd", "ping", "one of: ping, get-channel, set-output")
	channelID := flag.Uint("channel", 0, "channel id for get-channel/set-output")
	value := flag.Int("value", 0, "value for set-output")
	flag.Parse()

	p, err := serial.Open(*port, serial.NewOptions())
	if err != nil {
		log.WithError(err).Fatal("pmuctl: failed to open serial port")
	}
	defer p.Close()

	req, err := buildRequest(*cmd, uint16(*channelID), int32(*value))
	if err != nil {
		log.WithError(err).Fatal("pmuctl: bad command")
	}

	encoded, err := transport.Encode(req)
	if err != nil {
		log.WithError(err).Fatal("pmuctl: failed to encode request")
	}
	if _, err := p.Write(encoded); err != nil {
		log.WithError(err).Fatal("pmuctl: failed to write request")
	}

	reply, err := readReply(p, req.Seq)
	if err != nil {
		log.WithError(err).Fatal("pmuctl: no reply")
	}
	printReply(reply)
}

func buildRequest(cmd string, channelID uint16, value int32) (transport.Frame, error) {
	seq := transport.Sequence(1)
	switch cmd {
	case "ping":
		return transport.Frame{Seq: seq, Command: transport.CmdPing}, nil
	case "get-channel":
		payload := make([]byte, 2)
		binary.LittleEndian.PutUint16(payload, channelID)
		return transport.Frame{Seq: seq, Command: transport.CmdGetChannel, Payload: payload}, nil
	case "set-output":
		payload := make([]byte, 6)
		binary.LittleEndian.PutUint16(payload[0:2], channelID)
		binary.LittleEndian.PutUint32(payload[2:6], uint32(value))
		return transport.Frame{Seq: seq, Command: transport.CmdSetOutput, Payload: payload}, nil
	default:
		return transport.Frame{}, fmt.Errorf("unknown command %q", cmd)
	}
}

// readReply blocks reading bytes from the port until a complete frame
// matching wantSeq decodes, or requestTimeout elapses, mirroring the
// teacher SDO client's single-outstanding-request-with-timeout
// contract (spec §4.H "client times out after its own deadline").
func readReply(port interface{ Read([]byte) (int, error) }, wantSeq transport.Sequence) (transport.Frame, error) {
	dec := transport.NewDecoder(clock.NewSystem())
	deadline := time.Now().Add(requestTimeout)
	buf := make([]byte, 1)
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil || n == 0 {
			continue
		}
		frame, ok, err := dec.Feed(buf[0])
		if err != nil {
			continue
		}
		if !ok {
			continue
		}
		if frame.Seq != wantSeq && frame.Seq != transport.SeqBroadcast {
			continue
		}
		return frame, nil
	}
	return transport.Frame{}, fmt.Errorf("timed out after %s", requestTimeout)
}

func printReply(reply transport.Frame) {
	switch reply.Command {
	case transport.CmdNack:
		reason := byte(0)
		if len(reply.Payload) > 0 {
			reason = reply.Payload[0]
		}
		fmt.Printf("NACK reason=0x%02x\n", reason)
	case transport.CmdPong:
		fmt.Println("pong")
	case transport.CmdChannelData:
		if len(reply.Payload) < 6 {
			fmt.Println("malformed channel_data reply")
			return
		}
		id := binary.LittleEndian.Uint16(reply.Payload[0:2])
		v := int32(binary.LittleEndian.Uint32(reply.Payload[2:6]))
		fmt.Printf("channel %d = %d\n", id, v)
	case transport.CmdOutputAck:
		if len(reply.Payload) < 3 {
			fmt.Println("malformed output_ack reply")
			return
		}
		id := binary.LittleEndian.Uint16(reply.Payload[0:2])
		fmt.Printf("set_output channel %d ok=%v\n", id, reply.Payload[2] != 0)
	default:
		fmt.Printf("reply cmd=0x%02x payload=% x\n", byte(reply.Command), reply.Payload)
	}
	os.Exit(0)
}
