// Package wire implements the length-prefixed framing spoken on gateway
// sockets.
//
// A request frame is one operation byte followed by a big-endian uint32 body
// length and the body:
//
//	+----+--------+--------------+
//	| op | length | query text   |
//	+----+--------+--------------+
//	  1      4        length
//
// A response frame has the same layout with a status byte (0 ok, 1 error)
// in place of the operation. Bodies are limited to MaxFrameSize bytes.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/c360/gqlpool/errors"
)

// MaxFrameSize is the largest accepted body.
const MaxFrameSize = 1 << 20

const headerSize = 5

// Op is the operation kind of a request.
type Op byte

// Operations
const (
	OpGet    Op = 'g'
	OpAdd    Op = 'a'
	OpUpdate Op = 'u'
	OpDelete Op = 'd'
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", byte(o))
	}
}

// Valid reports whether o is one of the four operations.
func (o Op) Valid() bool {
	switch o {
	case OpGet, OpAdd, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ParseOp maps an operation name to its Op.
func ParseOp(name string) (Op, error) {
	for _, op := range []Op{OpGet, OpAdd, OpUpdate, OpDelete} {
		if op.String() == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown operation %q", errors.ErrInvalidData, name)
}

// Status tells whether a response body is a result or an error payload.
type Status byte

// Response statuses
const (
	StatusOK    Status = 0
	StatusError Status = 1
)

// Request is one decoded request frame.
type Request struct {
	Op   Op
	Body string
}

// Response is one decoded response frame.
type Response struct {
	Status Status
	Body   string
}

// WriteRequest encodes r onto w as a single write.
func WriteRequest(w io.Writer, r Request) error {
	if !r.Op.Valid() {
		return fmt.Errorf("%w: unknown operation %d", errors.ErrInvalidData, byte(r.Op))
	}
	return writeFrame(w, byte(r.Op), r.Body)
}

// ReadRequest decodes one request frame. It returns io.EOF when the peer
// closed the stream between frames.
func ReadRequest(rd io.Reader) (Request, error) {
	lead, body, err := readFrame(rd)
	if err != nil {
		return Request{}, err
	}
	op := Op(lead)
	if !op.Valid() {
		return Request{}, fmt.Errorf("%w: unknown operation %d", errors.ErrInvalidData, lead)
	}
	return Request{Op: op, Body: body}, nil
}

// WriteResponse encodes r onto w as a single write.
func WriteResponse(w io.Writer, r Response) error {
	return writeFrame(w, byte(r.Status), r.Body)
}

// ReadResponse decodes one response frame.
func ReadResponse(rd io.Reader) (Response, error) {
	lead, body, err := readFrame(rd)
	if err != nil {
		return Response{}, err
	}
	status := Status(lead)
	if status != StatusOK && status != StatusError {
		return Response{}, fmt.Errorf("%w: unknown status %d", errors.ErrInvalidData, lead)
	}
	return Response{Status: status, Body: body}, nil
}

func writeFrame(w io.Writer, lead byte, body string) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", errors.ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, headerSize+len(body))
	buf[0] = lead
	binary.BigEndian.PutUint32(buf[1:headerSize], uint32(len(body)))
	copy(buf[headerSize:], body)

	if _, err := w.Write(buf); err != nil {
		return errors.Join(errors.ErrConnection, err)
	}
	return nil
}

func readFrame(rd io.Reader) (byte, string, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(rd, header[:]); err != nil {
		if err == io.EOF {
			return 0, "", io.EOF
		}
		return 0, "", errors.Join(errors.ErrConnection, err)
	}

	size := binary.BigEndian.Uint32(header[1:])
	if size > MaxFrameSize {
		return 0, "", fmt.Errorf("%w: %d bytes", errors.ErrFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(rd, body); err != nil {
		return 0, "", errors.Join(errors.ErrConnection, err)
	}
	return header[0], string(body), nil
}
