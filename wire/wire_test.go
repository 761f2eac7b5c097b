package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gqlpool/errors"
)

func TestRequestFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, Request{Op: OpUpdate, Body: "{ Droid (id:1) { age: 4 } }"}))

	raw := buf.Bytes()
	assert.Equal(t, byte('u'), raw[0])
	assert.Equal(t, []byte{0, 0, 0, 27}, raw[1:5])

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, req.Op)
	assert.Equal(t, "{ Droid (id:1) { age: 4 } }", req.Body)

	_, err = ReadRequest(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestResponseFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, Response{Status: StatusOK, Body: `{"Droid":[]}`}))
	require.NoError(t, WriteResponse(&buf, Response{Status: StatusError, Body: ""}))

	first, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, Response{Status: StatusOK, Body: `{"Droid":[]}`}, first)

	second, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, StatusError, second.Status)
	assert.Empty(t, second.Body)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		target error
	}{
		{"unknown op", []byte{'x', 0, 0, 0, 0}, errors.ErrInvalidData},
		{"oversize", []byte{'g', 0xff, 0xff, 0xff, 0xff}, errors.ErrFrameTooLarge},
		{"truncated header", []byte{'g', 0}, errors.ErrConnection},
		{"truncated body", []byte{'g', 0, 0, 0, 9, '{'}, errors.ErrConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRequest(bytes.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestWriteErrors(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRequest(&buf, Request{Op: OpGet, Body: strings.Repeat("x", MaxFrameSize+1)})
	assert.True(t, errors.Is(err, errors.ErrFrameTooLarge))
	assert.Equal(t, "INVALID_INPUT", errors.Code(err))

	err = WriteRequest(&buf, Request{Op: Op('z'), Body: "{ x }"})
	assert.True(t, errors.Is(err, errors.ErrInvalidData))
	assert.Zero(t, buf.Len())
}

func TestOp(t *testing.T) {
	for _, name := range []string{"get", "add", "update", "delete"} {
		op, err := ParseOp(name)
		require.NoError(t, err)
		assert.Equal(t, name, op.String())
		assert.True(t, op.Valid())
	}

	_, err := ParseOp("merge")
	assert.Error(t, err)
	assert.False(t, Op('q').Valid())
}
