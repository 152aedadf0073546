package siyi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Wire layout, little-endian:
//
//	[0x55 0x66][ctrl][len u16][seq u16][cmd][payload...][crc16 u16]
const (
	startLow  = 0x55
	startHigh = 0x66

	headerLen = 8
	crcLen    = 2

	// MinPacketLen is the size of a packet with an empty payload.
	MinPacketLen = headerLen + crcLen

	// maxPayload bounds the declared length the scanner will wait for.
	// Real responses are a few dozen bytes at most.
	maxPayload = 1024
)

// Control byte values.
const (
	CtrlNeedAck byte = 0x00
	CtrlCommand byte = 0x01
)

// ErrMalformedPacket is returned for short input, a bad start marker, a
// truncated payload or a checksum mismatch.
var ErrMalformedPacket = errors.New("siyi: malformed packet")

// Packet is one decoded protocol frame.
type Packet struct {
	Ctrl    byte
	Seq     uint16
	Cmd     Command
	Payload []byte
}

// NeedAck reports whether the sender asked for a response.
func (p Packet) NeedAck() bool {
	return p.Ctrl == CtrlNeedAck
}

// CRC16 computes CRC-16/XMODEM: polynomial 0x1021, initial value 0,
// MSB-first, no final xor.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Encode serializes a packet with an explicit sequence number.
func Encode(ctrl byte, seq uint16, cmd Command, payload []byte) []byte {
	pkt := make([]byte, headerLen, headerLen+len(payload)+crcLen)
	pkt[0] = startLow
	pkt[1] = startHigh
	pkt[2] = ctrl
	binary.LittleEndian.PutUint16(pkt[3:5], uint16(len(payload)))
	binary.LittleEndian.PutUint16(pkt[5:7], seq)
	pkt[7] = byte(cmd)
	pkt = append(pkt, payload...)
	return binary.LittleEndian.AppendUint16(pkt, CRC16(pkt))
}

// Parse decodes the packet at the start of b. Bytes after the checksum
// are ignored.
func Parse(b []byte) (Packet, error) {
	if len(b) < MinPacketLen {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(b))
	}
	if b[0] != startLow || b[1] != startHigh {
		return Packet{}, fmt.Errorf("%w: start marker %02x %02x", ErrMalformedPacket, b[0], b[1])
	}

	n := int(binary.LittleEndian.Uint16(b[3:5]))
	end := headerLen + n
	if len(b) < end+crcLen {
		return Packet{}, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrMalformedPacket, n, len(b)-MinPacketLen)
	}

	want := binary.LittleEndian.Uint16(b[end : end+crcLen])
	if got := CRC16(b[:end]); got != want {
		return Packet{}, fmt.Errorf("%w: crc %04x, expected %04x", ErrMalformedPacket, got, want)
	}

	return Packet{
		Ctrl:    b[2],
		Seq:     binary.LittleEndian.Uint16(b[5:7]),
		Cmd:     Command(b[7]),
		Payload: bytes.Clone(b[headerLen:end]),
	}, nil
}

// Codec builds packets for one session. The sequence number starts at 0,
// advances on every Build and wraps at 65536.
type Codec struct {
	mu  sync.Mutex
	seq uint16
}

// Build serializes cmd and payload with the next sequence number.
func (c *Codec) Build(cmd Command, payload []byte, needAck bool) []byte {
	ctrl := CtrlCommand
	if needAck {
		ctrl = CtrlNeedAck
	}

	c.mu.Lock()
	seq := c.seq
	c.seq++
	c.mu.Unlock()

	return Encode(ctrl, seq, cmd, payload)
}

// Scanner splits a byte stream into packets. TCP and UART reads may carry
// partial packets, several packets, or noise between them.
type Scanner struct {
	buf []byte
}

// Feed appends bytes read from the transport.
func (s *Scanner) Feed(b []byte) {
	s.buf = append(s.buf, b...)
}

// Buffered returns the number of bytes waiting for a complete packet.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// Next extracts the next packet. It returns ok=false with a nil error when
// more input is needed, and ErrMalformedPacket each time it discards bytes
// to resynchronize on the start marker.
func (s *Scanner) Next() (Packet, bool, error) {
	idx := bytes.Index(s.buf, []byte{startLow, startHigh})
	if idx < 0 {
		keep := 0
		if n := len(s.buf); n > 0 && s.buf[n-1] == startLow {
			keep = 1
		}
		dropped := len(s.buf) - keep
		s.buf = append(s.buf[:0], s.buf[len(s.buf)-keep:]...)
		if dropped > 0 {
			return Packet{}, false, fmt.Errorf("%w: %d bytes of noise", ErrMalformedPacket, dropped)
		}
		return Packet{}, false, nil
	}
	if idx > 0 {
		s.discard(idx)
		return Packet{}, false, fmt.Errorf("%w: %d bytes before start marker", ErrMalformedPacket, idx)
	}
	if len(s.buf) < headerLen {
		return Packet{}, false, nil
	}

	n := int(binary.LittleEndian.Uint16(s.buf[3:5]))
	if n > maxPayload {
		s.discard(2)
		return Packet{}, false, fmt.Errorf("%w: declared length %d", ErrMalformedPacket, n)
	}
	total := headerLen + n + crcLen
	if len(s.buf) < total {
		return Packet{}, false, nil
	}

	pkt, err := Parse(s.buf[:total])
	if err != nil {
		// Skip this marker only; a real packet may start inside the
		// rejected bytes.
		s.discard(2)
		return Packet{}, false, err
	}
	s.discard(total)
	return pkt, true, nil
}

func (s *Scanner) discard(n int) {
	s.buf = append(s.buf[:0], s.buf[n:]...)
}
