package bser

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalPDU_V1Header(t *testing.T) {
	b, err := MarshalPDU(true)
	require.NoError(t, err)

	// magic, int8 length 1, true
	assert.Equal(t, []byte{0x00, 0x01, 0x03, 0x01, 0x08}, b)
	assert.True(t, IsPDU(b))
}

func TestDecodePDU_V1AndV2(t *testing.T) {
	msg := map[string]any{"method": "sync", "params": []any{"/repo"}}

	for _, h := range []Header{{Version: Version1}, {Version: Version2, Capabilities: 0x3}} {
		b, err := MarshalPDUWithHeader(msg, h)
		require.NoError(t, err)

		got, gotHeader, n, err := DecodePDU(b)
		require.NoError(t, err)
		assert.Equal(t, h, gotHeader)
		assert.Equal(t, len(b), n)
		assert.Equal(t, map[string]any{"method": "sync", "params": []any{"/repo"}}, got)
	}
}

func TestPDULen_ReportsTotal(t *testing.T) {
	b, err := MarshalPDU("abc")
	require.NoError(t, err)

	_, hlen, total, err := PDULen(b[:4])
	require.NoError(t, err)
	assert.Equal(t, 4, hlen)
	assert.Equal(t, len(b), total)

	_, _, _, err = PDULen(b[:1])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodePDU_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     []byte
		truncated bool
	}{
		{"bad magic", []byte{'{', '"'}, false},
		{"v2 short caps", []byte{0x00, 0x02, 0x01}, true},
		{"body short", []byte{0x00, 0x01, 0x03, 0x05, 0x08}, true},
		{"negative length", []byte{0x00, 0x01, 0x03, 0xff}, false},
		{"trailing bytes", []byte{0x00, 0x01, 0x03, 0x02, 0x08, 0x08}, false},
		{"body malformed", []byte{0x00, 0x01, 0x03, 0x01, 0x42}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := DecodePDU(tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.truncated, isTruncated(err))
		})
	}
}

func TestReadPDU_Stream(t *testing.T) {
	// Given: two PDUs back to back
	var buf bytes.Buffer
	for _, v := range []any{"first", int64(2)} {
		b, err := MarshalPDU(v)
		require.NoError(t, err)
		buf.Write(b)
	}
	r := bufio.NewReader(&buf)

	// When/Then: each is read in turn
	v, h, err := ReadPDU(r)
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	assert.Equal(t, Version1, h.Version)

	v, _, err = ReadPDU(r)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, _, err = ReadPDU(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadPDU_UnexpectedEOF(t *testing.T) {
	b, err := MarshalPDU("truncated body")
	require.NoError(t, err)

	_, _, err = ReadPDU(bufio.NewReader(bytes.NewReader(b[:len(b)-3])))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, _, err = ReadPDU(bufio.NewReader(bytes.NewReader(b[:1])))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadPDU_RejectsOversizedLength(t *testing.T) {
	hdr := []byte{0x00, 0x01, 0x06, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}

	_, _, err := ReadPDU(bufio.NewReader(bytes.NewReader(hdr)))

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Reason, "out of range")
}
