package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/watchsync/internal/bser"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
)

func TestDebugCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	debugCmd, _, err := cmd.Find([]string{"debug"})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, sc := range debugCmd.Commands() {
		names[sc.Name()] = true
	}
	assert.True(t, names["cookies"])
	assert.True(t, names["recrawl"])
	assert.True(t, names["bser-decode"])
}

func TestBSERDecode_PDUStreamFromFile(t *testing.T) {
	// Given: a file holding two PDUs of different versions
	first, err := bser.MarshalPDU(map[string]any{"name": "a.txt", "exists": true})
	require.NoError(t, err)
	second, err := bser.MarshalPDUWithHeader([]any{int64(1), "two"}, bser.Header{Version: bser.Version2})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "capture.bser")
	require.NoError(t, os.WriteFile(path, append(first, second...), 0o644))

	// When: decoding it
	out, err := runCmd(t, "debug", "bser-decode", path)

	// Then: each value is printed as JSON in order
	require.NoError(t, err)
	dec := json.NewDecoder(strings.NewReader(out))

	var obj map[string]any
	require.NoError(t, dec.Decode(&obj))
	assert.Equal(t, "a.txt", obj["name"])
	assert.Equal(t, true, obj["exists"])

	var arr []any
	require.NoError(t, dec.Decode(&arr))
	assert.Equal(t, []any{float64(1), "two"}, arr)
}

func TestBSERDecode_BareValueFromStdin(t *testing.T) {
	data, err := bser.Marshal([]any{"x", nil, 2.5})
	require.NoError(t, err)

	out, err := runCmdWithInput(t, string(data), "debug", "bser-decode")

	require.NoError(t, err)
	assert.JSONEq(t, `["x", null, 2.5]`, out)
}

func TestBSERDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"unknown tag", []byte{0x7f}},
		{"truncated PDU", []byte{0x00, 0x01, 0x03, 0x10, 0x02}},
		{"trailing bytes", []byte{0x08, 0x08}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmdWithInput(t, string(tt.input), "debug", "bser-decode")

			require.Error(t, err)
			assert.Equal(t, werrors.ErrCodeMalformedPDU, werrors.GetCode(err))
		})
	}
}

func TestBSERDecode_EmptyInput(t *testing.T) {
	_, err := runCmdWithInput(t, "", "debug", "bser-decode")

	require.Error(t, err)
	assert.Equal(t, werrors.ErrCodeInvalidInput, werrors.GetCode(err))
}

func TestBSERDecode_KeepsValuesBeforeFailure(t *testing.T) {
	// Given: one good PDU followed by garbage with a valid magic
	good, err := bser.MarshalPDU("ok")
	require.NoError(t, err)
	input := append(good, 0x00, 0x01, 0x03, 0x01, 0x7f)

	// When: decoding
	values, err := decodeBSER(input)

	// Then: the good value survives alongside the error
	require.Error(t, err)
	assert.Equal(t, []any{"ok"}, values)
}
