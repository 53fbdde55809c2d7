// Package mcuio implements the framed serial link the axis-activity scan
// drives for axis enable/disable and fan PWM output, standing in for the
// real MCU/GPIO layer SPEC_FULL.md excludes from the core (section 1). The
// framing is grounded on the teacher's extras_ace_commun.go protocol
// (FRAME_START_1/2, FRAME_END, a length-prefixed payload), with the CRC
// check replaced by a real CRC-16/CCITT implementation rather than the
// teacher's simpler additive checksum.
package mcuio

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/tarm/serial"

	"github.com/ac3d-labs/motionplan/internal/logging"
)

const (
	frameStart1  = 0xFF
	frameStart2  = 0xAA
	frameEnd     = 0xFE
	minFrameSize = 7 // start(2) + len(2) + crc(2) + end(1)
)

// Command ids sent over the wire.
const (
	cmdEnableAxis  = 0x01
	cmdDisableAxis = 0x02
	cmdSetFanSpeed = 0x03
)

// crc16 computes the CRC-16 used to frame checksum payloads, grounded on
// amken3d-gopper's protocol.CRC16 rather than the teacher's own weaker
// additive _calc_crc, since the spec calls for an actual CRC-16.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, ob := range data {
		b := ob ^ uint8(crc&0xFF)
		b = b ^ (b << 4)
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}

// Link is a planner.IOLink backed by a tarm/serial connection. When no
// device path is configured, it degrades to logging each command instead of
// writing to a port.
type Link struct {
	port *serial.Port
	log  *logging.Logger
}

// Open opens devicePath at the given baud rate. An empty devicePath yields a
// logging-only Link.
func Open(devicePath string, baud int, log *logging.Logger) (*Link, error) {
	l := &Link{log: log}
	if devicePath == "" {
		return l, nil
	}
	cfg := &serial.Config{Name: devicePath, Baud: baud}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	l.port = p
	return l, nil
}

func (l *Link) Close() error {
	if l.port == nil {
		return nil
	}
	return l.port.Close()
}

func (l *Link) EnableAxis(axis int) {
	l.send(cmdEnableAxis, []byte{byte(axis)})
}

func (l *Link) DisableAxis(axis int) {
	l.send(cmdDisableAxis, []byte{byte(axis)})
}

func (l *Link) SetFanSpeed(extruder int, speed float64) {
	payload := make([]byte, 5)
	payload[0] = byte(extruder)
	binary.BigEndian.PutUint32(payload[1:], floatBits(speed))
	l.send(cmdSetFanSpeed, payload)
}

func floatBits(v float64) uint32 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint32(v * 0xFFFFFFFF)
}

func (l *Link) send(cmd byte, payload []byte) {
	frame := buildFrame(cmd, payload)
	if l.port == nil {
		if l.log != nil {
			l.log.Debugf("mcuio (no serial device): cmd=0x%02x payload=% x", cmd, payload)
		}
		return
	}
	if _, err := l.port.Write(frame); err != nil && l.log != nil {
		l.log.Warnf("mcuio write failed: %v", err)
	}
}

func buildFrame(cmd byte, payload []byte) []byte {
	body := append([]byte{cmd}, payload...)
	length := uint16(len(body))

	buf := make([]byte, 0, minFrameSize+len(body))
	buf = append(buf, frameStart1, frameStart2)
	lenBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBytes, length)
	buf = append(buf, lenBytes...)
	buf = append(buf, body...)

	crc := crc16(body)
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crc)
	buf = append(buf, crcBytes...)
	buf = append(buf, frameEnd)
	return buf
}

// parseFrame extracts and CRC-verifies the command payload of a single
// frame read from r, used by tests to confirm round-tripping without a real
// serial device.
func parseFrame(r io.Reader) (cmd byte, payload []byte, err error) {
	header := make([]byte, 4)
	if _, err = io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	if header[0] != frameStart1 || header[1] != frameStart2 {
		return 0, nil, errors.New("mcuio: bad frame start")
	}
	length := binary.BigEndian.Uint16(header[2:4])
	body := make([]byte, length)
	if _, err = io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	trailer := make([]byte, 3)
	if _, err = io.ReadFull(r, trailer); err != nil {
		return 0, nil, err
	}
	wantCRC := binary.BigEndian.Uint16(trailer[0:2])
	if crc16(body) != wantCRC {
		return 0, nil, errors.New("mcuio: crc mismatch")
	}
	if trailer[2] != frameEnd {
		return 0, nil, errors.New("mcuio: bad frame end")
	}
	return body[0], body[1:], nil
}
