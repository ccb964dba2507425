// Package provider defines the generation provider contract and its HTTP
// implementations.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrUpstream marks a provider response that was received but unusable.
	ErrUpstream = errors.New("provider upstream failure")
	// ErrCircuitOpen is returned while a provider's breaker rejects calls.
	ErrCircuitOpen = errors.New("provider circuit open")
	// ErrTimeout is returned when a single call exceeds its budget.
	ErrTimeout = errors.New("provider call timed out")
)

// Request carries the four generation inputs of one unit.
type Request struct {
	Topic          string
	SourceDocument string
	SourceTag      string
	SegmentTag     string
}

// Provider returns raw generated text or fails. Implementations make no
// promise about the shape of the text.
type Provider interface {
	Name() string
	Call(ctx context.Context, req *Request) (string, error)
}

// Func adapts a function to Provider.
type Func struct {
	name string
	fn   func(ctx context.Context, req *Request) (string, error)
}

func NewFunc(name string, fn func(ctx context.Context, req *Request) (string, error)) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Call(ctx context.Context, req *Request) (string, error) {
	return f.fn(ctx, req)
}
