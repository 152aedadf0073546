package siyi

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err)
	return b
}

func TestCRC16CheckValue(t *testing.T) {
	assert.Equal(t, uint16(0x31C3), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(0), CRC16(nil))
}

func TestEncodeKnownVectors(t *testing.T) {
	tests := []struct {
		name    string
		ctrl    byte
		seq     uint16
		cmd     Command
		payload []byte
		want    string
	}{
		{"heartbeat", CtrlCommand, 0, CmdHeartbeat, heartbeatPayload, "55 66 01 01 00 00 00 00 00 59 8b"},
		{"center", CtrlCommand, 0, CmdCenter, centerPayload, "55 66 01 01 00 00 00 08 01 d1 12"},
		{"firmware request", CtrlNeedAck, 0, CmdFirmwareVersion, nil, "55 66 00 00 00 00 00 01 c4 81"},
		{"attitude request", CtrlNeedAck, 5, CmdAttitude, nil, "55 66 00 00 00 05 00 0d b8 ab"},
		{"rotate", CtrlCommand, 1, CmdRotate, []byte{0x32, 0xe2}, "55 66 01 02 00 01 00 07 32 e2 3b 30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.ctrl, tt.seq, tt.cmd, tt.payload)
			assert.Equal(t, mustHex(t, tt.want), got)
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6}
	raw := Encode(CtrlNeedAck, 0xBEEF, CmdAttitude, payload)

	pkt, err := Parse(raw)
	require.NoError(t, err)

	want := Packet{Ctrl: CtrlNeedAck, Seq: 0xBEEF, Cmd: CmdAttitude, Payload: payload}
	if diff := cmp.Diff(want, pkt); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, pkt.NeedAck())

	// The payload must not alias the input buffer.
	raw[headerLen] = 0xFF
	assert.Equal(t, byte(1), pkt.Payload[0])
}

func TestParseIgnoresTrailingBytes(t *testing.T) {
	raw := append(Encode(CtrlCommand, 3, CmdCenter, centerPayload), 0xAA, 0xBB)
	pkt, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, CmdCenter, pkt.Cmd)
	assert.Equal(t, uint16(3), pkt.Seq)
}

func TestParseRejectsMalformed(t *testing.T) {
	good := Encode(CtrlCommand, 0, CmdRotate, []byte{10, 20})

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"short", good[:MinPacketLen-1]},
		{"bad marker", append([]byte{0x55, 0x67}, good[2:]...)},
		{"truncated payload", good[:len(good)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}

func TestParseDetectsEverySingleBitFlip(t *testing.T) {
	good := Encode(CtrlCommand, 0x1234, CmdRotate, []byte{0x32, 0xe2})

	for i := range good {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), good...)
			corrupt[i] ^= 1 << bit
			_, err := Parse(corrupt)
			assert.ErrorIs(t, err, ErrMalformedPacket, "byte %d bit %d", i, bit)
		}
	}
}

func TestCodecSequence(t *testing.T) {
	var c Codec

	first, err := Parse(c.Build(CmdHeartbeat, heartbeatPayload, false))
	require.NoError(t, err)
	second, err := Parse(c.Build(CmdAttitude, nil, true))
	require.NoError(t, err)

	assert.Equal(t, uint16(0), first.Seq)
	assert.Equal(t, uint16(1), second.Seq)
	assert.Equal(t, CtrlCommand, first.Ctrl)
	assert.Equal(t, CtrlNeedAck, second.Ctrl)
}

func TestCodecSequenceWraps(t *testing.T) {
	var c Codec
	for i := 0; i < 65535; i++ {
		c.Build(CmdHeartbeat, nil, false)
	}

	last, err := Parse(c.Build(CmdHeartbeat, nil, false))
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), last.Seq)

	wrapped, err := Parse(c.Build(CmdHeartbeat, nil, false))
	require.NoError(t, err)
	assert.Equal(t, uint16(0), wrapped.Seq)
}

func TestScannerSplitsStream(t *testing.T) {
	a := Encode(CtrlCommand, 1, CmdAttitude, []byte{1, 0, 2, 0, 3, 0})
	b := Encode(CtrlCommand, 2, CmdFirmwareVersion, []byte{3, 1, 4})

	var sc Scanner
	stream := append(append([]byte{}, a...), b...)

	// Byte at a time: nothing until the first packet completes.
	var got []Packet
	for _, x := range stream {
		sc.Feed([]byte{x})
		for {
			pkt, ok, err := sc.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, pkt)
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, CmdAttitude, got[0].Cmd)
	assert.Equal(t, CmdFirmwareVersion, got[1].Cmd)
	assert.Equal(t, []byte{3, 1, 4}, got[1].Payload)
	assert.Zero(t, sc.Buffered())
}

func TestScannerResyncsAfterNoise(t *testing.T) {
	good := Encode(CtrlCommand, 9, CmdCenter, centerPayload)
	bad := Encode(CtrlCommand, 8, CmdRotate, []byte{1, 2})
	bad[len(bad)-1] ^= 0xFF

	var sc Scanner
	sc.Feed([]byte{0x00, 0x13, 0x37})
	sc.Feed(bad)
	sc.Feed(good)

	var (
		pkts   []Packet
		errors int
	)
	for i := 0; i < 32; i++ {
		pkt, ok, err := sc.Next()
		if err != nil {
			assert.ErrorIs(t, err, ErrMalformedPacket)
			errors++
			continue
		}
		if !ok {
			break
		}
		pkts = append(pkts, pkt)
	}

	require.Len(t, pkts, 1)
	assert.Equal(t, CmdCenter, pkts[0].Cmd)
	assert.Equal(t, uint16(9), pkts[0].Seq)
	assert.GreaterOrEqual(t, errors, 2)
}

func TestScannerKeepsTrailingStartByte(t *testing.T) {
	good := Encode(CtrlCommand, 0, CmdCenter, centerPayload)

	var sc Scanner
	sc.Feed([]byte{0x01, 0x02, good[0]})
	_, ok, err := sc.Next()
	assert.ErrorIs(t, err, ErrMalformedPacket)
	assert.False(t, ok)
	assert.Equal(t, 1, sc.Buffered())

	sc.Feed(good[1:])
	pkt, ok, err := sc.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CmdCenter, pkt.Cmd)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "rotate", CmdRotate.String())
	assert.Equal(t, "0x7f", Command(0x7f).String())
	assert.Equal(t, "record", CaptureRecord.String())
}
