package pool

import (
	"context"
	"fmt"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/parser"
	"github.com/c360/gqlpool/translate"
	"github.com/c360/gqlpool/wire"
)

// Handler turns a request body into response text.
type Handler interface {
	Handle(ctx context.Context, op wire.Op, body string) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, op wire.Op, body string) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, op wire.Op, body string) (string, error) {
	return f(ctx, op, body)
}

// Store is the part of the backend the executor needs.
type Store interface {
	translate.Querier
	Exec(ctx context.Context, stmts ...translate.Statement) (int64, error)
}

// Executor runs requests through the parser, the translator and the store.
type Executor struct {
	translator *translate.Translator
	store      Store
}

// NewExecutor creates an executor over the translator's schema and store.
func NewExecutor(translator *translate.Translator, store Store) *Executor {
	return &Executor{translator: translator, store: store}
}

// Handle parses body as a query for OpGet and as a mutation otherwise, and
// executes the translated statements. Queries answer with the selected rows,
// mutations with the affected row count.
func (e *Executor) Handle(ctx context.Context, op wire.Op, body string) (string, error) {
	if op == wire.OpGet {
		node, err := parser.ParseQuery(body)
		if err != nil {
			return "", err
		}
		plan, err := e.translator.Query(node)
		if err != nil {
			return "", err
		}
		return translate.Resolve(ctx, e.store, plan)
	}

	node, err := parser.ParseMutation(body)
	if err != nil {
		return "", err
	}

	var stmts []translate.Statement
	switch op {
	case wire.OpAdd:
		stmts, err = e.translator.Insert(node)
	case wire.OpUpdate:
		stmts, err = e.translator.Update(node)
	case wire.OpDelete:
		stmts, err = e.translator.Delete(node)
	default:
		err = errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidData, op), "Executor", "Handle", "select operation")
	}
	if err != nil {
		return "", err
	}

	affected, err := e.store.Exec(ctx, stmts...)
	if err != nil {
		return "", err
	}
	return translate.RenderAffected(node.Name, affected), nil
}
