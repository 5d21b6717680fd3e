package bser

import (
	"encoding/binary"
	"math"
)

// Type tags.
const (
	tagArray      byte = 0x00
	tagObject     byte = 0x01
	tagBytes      byte = 0x02
	tagInt8       byte = 0x03
	tagInt16      byte = 0x04
	tagInt32      byte = 0x05
	tagInt64      byte = 0x06
	tagReal       byte = 0x07
	tagTrue       byte = 0x08
	tagFalse      byte = 0x09
	tagNull       byte = 0x0a
	tagTemplate   byte = 0x0b
	tagSkip       byte = 0x0c
	tagUTF8String byte = 0x0d
)

// MaxDepth bounds container nesting during Decode. Template rows count as
// one level below the template.
const MaxDepth = 256

// maxPrealloc caps the capacity reserved up front for a container; larger
// ones grow as elements are actually decoded.
const maxPrealloc = 1024

type decoder struct {
	buf   []byte
	pos   int
	depth int
}

// Decode decodes the first value in buf and reports how many bytes it used.
func Decode(buf []byte) (any, int, error) {
	d := &decoder{buf: buf}
	v, err := d.value()
	if err != nil {
		return nil, d.pos, err
	}
	return v, d.pos, nil
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) fail(reason string) error {
	return &DecodeError{Offset: d.pos, Reason: reason}
}

func (d *decoder) truncated(need int) error {
	return &DecodeError{
		Offset: d.pos,
		Reason: "unexpected end of input",
		Needed: d.pos + need,
		err:    ErrTruncated,
	}
}

func (d *decoder) need(n int) error {
	if n > d.remaining() {
		return d.truncated(n)
	}
	return nil
}

func (d *decoder) value() (any, error) {
	if err := d.need(1); err != nil {
		return nil, err
	}

	switch d.buf[d.pos] {
	case tagArray:
		return d.array()
	case tagObject:
		return d.object()
	case tagBytes, tagUTF8String:
		return d.string()
	case tagInt8, tagInt16, tagInt32, tagInt64:
		return d.int()
	case tagReal:
		if err := d.need(9); err != nil {
			return nil, err
		}
		bits := binary.LittleEndian.Uint64(d.buf[d.pos+1:])
		d.pos += 9
		return math.Float64frombits(bits), nil
	case tagTrue:
		d.pos++
		return true, nil
	case tagFalse:
		d.pos++
		return false, nil
	case tagNull:
		d.pos++
		return nil, nil
	case tagTemplate:
		return d.template()
	case tagSkip:
		return nil, d.fail("skip marker outside template")
	default:
		return nil, d.fail("unknown type tag")
	}
}

// int reads a tagged integer.
func (d *decoder) int() (int64, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}

	var size int
	switch d.buf[d.pos] {
	case tagInt8:
		size = 1
	case tagInt16:
		size = 2
	case tagInt32:
		size = 4
	case tagInt64:
		size = 8
	default:
		return 0, d.fail("expected integer")
	}
	if err := d.need(1 + size); err != nil {
		return 0, err
	}

	b := d.buf[d.pos+1 : d.pos+1+size]
	var v int64
	switch size {
	case 1:
		v = int64(int8(b[0]))
	case 2:
		v = int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		v = int64(int32(binary.LittleEndian.Uint32(b)))
	case 8:
		v = int64(binary.LittleEndian.Uint64(b))
	}
	d.pos += 1 + size
	return v, nil
}

// count reads a length prefix and rejects values the remaining input cannot
// hold at minElem bytes per element.
func (d *decoder) count(minElem int) (int, error) {
	start := d.pos
	n, err := d.int()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		d.pos = start
		return 0, d.fail("negative length")
	}
	if minElem > 0 && n > int64(d.remaining()/minElem) {
		return 0, d.truncated(int(min(n, math.MaxInt32)) * minElem)
	}
	return int(n), nil
}

func (d *decoder) string() (string, error) {
	if err := d.need(1); err != nil {
		return "", err
	}
	if tag := d.buf[d.pos]; tag != tagBytes && tag != tagUTF8String {
		return "", d.fail("expected string")
	}
	d.pos++

	n, err := d.count(1)
	if err != nil {
		return "", err
	}
	s := string(d.buf[d.pos : d.pos+n])
	d.pos += n
	return s, nil
}

func (d *decoder) enter() error {
	d.depth++
	if d.depth > MaxDepth {
		return d.fail("nesting too deep")
	}
	return nil
}

func (d *decoder) leave() {
	d.depth--
}

func (d *decoder) array() ([]any, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()
	d.pos++

	n, err := d.count(1)
	if err != nil {
		return nil, err
	}
	arr := make([]any, 0, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}

func (d *decoder) object() (map[string]any, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()
	d.pos++

	// Smallest entry: empty string key (3 bytes) plus a one byte value.
	n, err := d.count(4)
	if err != nil {
		return nil, err
	}
	obj := make(map[string]any, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		k, err := d.string()
		if err != nil {
			return nil, err
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		obj[k] = v
	}
	return obj, nil
}

// template decodes a header of key names followed by rows of values, where
// any cell may be a skip marker.
func (d *decoder) template() ([]any, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()
	d.pos++

	if err := d.need(1); err != nil {
		return nil, err
	}
	if d.buf[d.pos] != tagArray {
		return nil, d.fail("template keys must be an array")
	}
	d.pos++
	nkeys, err := d.count(3)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, min(nkeys, maxPrealloc))
	for i := 0; i < nkeys; i++ {
		k, err := d.string()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	start := d.pos
	rows, err := d.count(0)
	if err != nil {
		return nil, err
	}
	// Each cell takes at least one byte; rows of zero keys take none, so
	// cap them by the input too.
	perRow := max(nkeys, 1)
	if rows > d.remaining()/perRow {
		if nkeys == 0 {
			d.pos = start
			return nil, d.fail("template row count exceeds input")
		}
		return nil, d.truncated(min(rows, math.MaxInt32/perRow) * perRow)
	}

	// Rows are objects nested inside the template.
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	out := make([]any, 0, min(rows, maxPrealloc))
	for r := 0; r < rows; r++ {
		row := make(map[string]any, min(nkeys, maxPrealloc))
		for _, k := range keys {
			if err := d.need(1); err != nil {
				return nil, err
			}
			if d.buf[d.pos] == tagSkip {
				d.pos++
				continue
			}
			v, err := d.value()
			if err != nil {
				return nil, err
			}
			row[k] = v
		}
		out = append(out, row)
	}
	return out, nil
}
