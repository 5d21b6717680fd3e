package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Aman-CERP/watchsync/internal/bser"
)

// codec frames messages on one connection. The framing is chosen from the
// first two bytes a peer sends and kept for the life of the connection.
type codec interface {
	read(v any) error
	write(v any) error
	name() string
}

// newCodec sniffs r: a BSER magic selects BSER PDUs, anything else
// newline-delimited JSON.
func newCodec(r *bufio.Reader, w io.Writer) codec {
	prefix, _ := r.Peek(2)
	if bser.IsPDU(prefix) {
		return &bserCodec{r: r, w: w, header: bser.Header{Version: int(prefix[1])}}
	}
	return &jsonCodec{dec: json.NewDecoder(r), enc: json.NewEncoder(w)}
}

var bserHeaderV1 = bser.Header{Version: bser.Version1}

func newJSONCodec(rw io.ReadWriter) *jsonCodec {
	return &jsonCodec{dec: json.NewDecoder(rw), enc: json.NewEncoder(rw)}
}

type jsonCodec struct {
	dec *json.Decoder
	enc *json.Encoder
}

func (c *jsonCodec) read(v any) error  { return c.dec.Decode(v) }
func (c *jsonCodec) write(v any) error { return c.enc.Encode(v) }
func (c *jsonCodec) name() string      { return "json" }

type bserCodec struct {
	r      *bufio.Reader
	w      io.Writer
	header bser.Header
}

func (c *bserCodec) name() string { return "bser" }

// read decodes one PDU into v by way of its JSON shape, so the same
// struct tags serve both framings.
func (c *bserCodec) read(v any) error {
	value, h, err := bser.ReadPDU(c.r)
	if err != nil {
		return err
	}
	c.header = h
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bser value is not representable as JSON: %w", err)
	}
	return json.Unmarshal(data, v)
}

// write replies using the framing version the peer last sent.
func (c *bserCodec) write(v any) error {
	generic, err := toGeneric(v)
	if err != nil {
		return err
	}
	pdu, err := bser.MarshalPDUWithHeader(generic, c.header)
	if err != nil {
		return err
	}
	_, err = c.w.Write(pdu)
	return err
}

// toGeneric turns a tagged struct into maps, slices and json.Numbers that
// the BSER encoder understands.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
