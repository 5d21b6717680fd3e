package bser

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PDU versions.
const (
	Version1 = 1
	Version2 = 2
)

// MaxPDUSize bounds the body length ReadPDU is willing to allocate.
const MaxPDUSize = 32 << 20

// Header describes a PDU's framing.
type Header struct {
	Version      int
	Capabilities uint32
}

// IsPDU reports whether prefix starts with a BSER magic. It needs at least
// two bytes.
func IsPDU(prefix []byte) bool {
	return len(prefix) >= 2 && prefix[0] == 0x00 &&
		(prefix[1] == Version1 || prefix[1] == Version2)
}

// MarshalPDU encodes v as a version 1 PDU.
func MarshalPDU(v any) ([]byte, error) {
	return MarshalPDUWithHeader(v, Header{Version: Version1})
}

// MarshalPDUWithHeader encodes v using the framing in h.
func MarshalPDUWithHeader(v any, h Header) ([]byte, error) {
	body, err := Marshal(v)
	if err != nil {
		return nil, err
	}

	var b []byte
	switch h.Version {
	case Version1:
		b = append(b, 0x00, Version1)
	case Version2:
		b = append(b, 0x00, Version2)
		b = binary.LittleEndian.AppendUint32(b, h.Capabilities)
	default:
		return nil, fmt.Errorf("bser: unknown PDU version %d", h.Version)
	}
	b = appendInt(b, int64(len(body)))
	return append(b, body...), nil
}

// PDULen parses the PDU header at the start of buf. It returns the header,
// the header length and the total PDU length. If buf is too short to hold
// the header the error matches ErrTruncated.
func PDULen(buf []byte) (Header, int, int, error) {
	d := &decoder{buf: buf}
	if err := d.need(2); err != nil {
		return Header{}, 0, 0, err
	}
	if !IsPDU(buf) {
		return Header{}, 0, 0, d.fail("bad PDU magic")
	}

	h := Header{Version: int(buf[1])}
	d.pos = 2
	if h.Version == Version2 {
		if err := d.need(4); err != nil {
			return Header{}, 0, 0, err
		}
		h.Capabilities = binary.LittleEndian.Uint32(buf[2:])
		d.pos += 4
	}

	start := d.pos
	n, err := d.int()
	if err != nil {
		return Header{}, 0, 0, err
	}
	if n < 0 || n > MaxPDUSize {
		d.pos = start
		return Header{}, 0, 0, d.fail("PDU length out of range")
	}
	return h, d.pos, d.pos + int(n), nil
}

// DecodePDU decodes one complete PDU from buf. It returns the value, the
// header and the number of bytes consumed.
func DecodePDU(buf []byte) (any, Header, int, error) {
	h, hlen, total, err := PDULen(buf)
	if err != nil {
		return nil, Header{}, 0, err
	}
	if total > len(buf) {
		return nil, Header{}, 0, &DecodeError{
			Offset: len(buf),
			Reason: "unexpected end of input",
			Needed: total,
			err:    ErrTruncated,
		}
	}

	v, n, err := Decode(buf[hlen:total])
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Offset += hlen
			if de.Needed > 0 {
				de.Needed += hlen
			}
		}
		return nil, Header{}, 0, err
	}
	if hlen+n != total {
		return nil, Header{}, 0, &DecodeError{Offset: hlen + n, Reason: "trailing bytes in PDU"}
	}
	return v, h, total, nil
}

// ReadPDU reads and decodes exactly one PDU from r.
func ReadPDU(r *bufio.Reader) (any, Header, error) {
	// Longest header: magic, capabilities, int64 length.
	const maxHeader = 2 + 4 + 9

	var total int
	for size := 2; ; size++ {
		peek, err := r.Peek(size)
		if len(peek) < size {
			if errors.Is(err, io.EOF) && len(peek) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, Header{}, err
		}
		_, _, n, perr := PDULen(peek)
		if perr == nil {
			total = n
			break
		}
		if !errors.Is(perr, ErrTruncated) || size >= maxHeader {
			return nil, Header{}, perr
		}
	}

	pdu := make([]byte, total)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return nil, Header{}, err
	}

	v, h, _, err := DecodePDU(pdu)
	return v, h, err
}
