package translate

import (
	"bytes"
	"encoding/json"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/parser"
)

// RenderAffected renders a mutation result: {"<table>":{"affected":N}}.
func RenderAffected(table string, affected int64) string {
	w := newWriter()
	w.openObject()
	w.key(table)
	w.openObject()
	w.key("affected")
	w.value(affected)
	w.closeObject()
	w.closeObject()
	return w.String()
}

// RenderError renders err as a GraphQL error list:
// {"errors":[{"message":...,"locations":[...],"extensions":{"code":...}}]}.
func RenderError(err error) string {
	gqlErr := &gqlerror.Error{
		Message: err.Error(),
		Extensions: map[string]interface{}{
			"code": errors.Code(err),
		},
	}

	var pe *parser.ParseError
	if errors.As(err, &pe) {
		gqlErr.Locations = []gqlerror.Location{{Line: pe.Line, Column: pe.Column}}
	}

	var te *Error
	if errors.As(err, &te) && te.Table != "" {
		gqlErr.Extensions["table"] = te.Table
		if te.Column != "" {
			gqlErr.Extensions["column"] = te.Column
		}
	}

	payload, mErr := json.Marshal(struct {
		Errors gqlerror.List `json:"errors"`
	}{Errors: gqlerror.List{gqlErr}})
	if mErr != nil {
		return `{"errors":[{"message":"internal error","extensions":{"code":"INTERNAL_ERROR"}}]}`
	}
	return string(payload)
}

// writer builds JSON with keys in insertion order, which encoding/json maps
// cannot give.
type writer struct {
	buf   bytes.Buffer
	first []bool
}

func newWriter() *writer {
	return &writer{}
}

func (w *writer) openObject() {
	w.buf.WriteByte('{')
	w.first = append(w.first, true)
}

func (w *writer) closeObject() {
	w.first = w.first[:len(w.first)-1]
	w.buf.WriteByte('}')
}

func (w *writer) openArray() {
	w.buf.WriteByte('[')
	w.first = append(w.first, true)
}

func (w *writer) closeArray() {
	w.first = w.first[:len(w.first)-1]
	w.buf.WriteByte(']')
}

// next separates array elements.
func (w *writer) next() {
	top := len(w.first) - 1
	if !w.first[top] {
		w.buf.WriteByte(',')
	}
	w.first[top] = false
}

func (w *writer) key(k string) {
	w.next()
	w.value(k)
	w.buf.WriteByte(':')
}

func (w *writer) value(v any) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		w.buf.WriteString("null")
		return
	}
	w.buf.Write(encoded)
}

func (w *writer) String() string {
	return w.buf.String()
}
