package media

import (
	"bytes"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const (
	payloadType = 96
	clockRate   = 90000
)

// stillPayloader splits an encoded still into MTU-sized fragments. The
// packetizer marks the last fragment of each frame.
type stillPayloader struct{}

func (stillPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	size := int(mtu)
	if size <= 0 || len(payload) == 0 {
		return nil
	}
	out := make([][]byte, 0, len(payload)/size+1)
	for len(payload) > size {
		out = append(out, payload[:size])
		payload = payload[size:]
	}
	return append(out, payload)
}

func newPacketizer(mtu int, ssrc uint32) rtp.Packetizer {
	return rtp.NewPacketizer(uint16(mtu), payloadType, ssrc, stillPayloader{}, rtp.NewRandomSequencer(), clockRate)
}

// frameAssembler rebuilds stills from RTP fragments. A frame with a lost
// fragment is discarded as a whole.
type frameAssembler struct {
	buf     bytes.Buffer
	started bool
	broken  bool
	ts      uint32
	nextSeq uint16
}

// push adds one packet and returns the completed frame, if any.
func (a *frameAssembler) push(p *rtp.Packet) ([]byte, bool) {
	if !a.started || p.Timestamp != a.ts {
		a.buf.Reset()
		a.started = true
		a.broken = false
		a.ts = p.Timestamp
	} else if p.SequenceNumber != a.nextSeq {
		a.broken = true
	}
	a.nextSeq = p.SequenceNumber + 1

	if !a.broken {
		a.buf.Write(p.Payload)
	}
	if !p.Marker {
		return nil, false
	}

	a.started = false
	if a.broken || !isJPEG(a.buf.Bytes()) {
		return nil, false
	}
	return bytes.Clone(a.buf.Bytes()), true
}

// isRTCP demultiplexes RTCP from RTP on a shared port (RFC 5761).
func isRTCP(b []byte) bool {
	return len(b) >= 2 && b[1] >= 192 && b[1] <= 223
}

func goodbye(ssrc uint32, reason string) []byte {
	raw, err := (&rtcp.Goodbye{Sources: []uint32{ssrc}, Reason: reason}).Marshal()
	if err != nil {
		return nil
	}
	return raw
}

func hasGoodbye(raw []byte) bool {
	pkts, err := rtcp.Unmarshal(raw)
	if err != nil {
		return false
	}
	for _, p := range pkts {
		if _, ok := p.(*rtcp.Goodbye); ok {
			return true
		}
	}
	return false
}
