package modkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type greeter interface{ Greet() string }

type hello struct{}

func (hello) Greet() string { return "hi" }

type stub struct {
	ports  any
	closed bool
}

func (s *stub) Ports() any   { return s.ports }
func (s *stub) Name() string { return "stub" }

func (s *stub) Close() error {
	s.closed = true
	return nil
}

var _ Module = (*stub)(nil)

func TestPortsLookup(t *testing.T) {
	t.Parallel()

	m := &stub{ports: struct{ Runner greeter }{Runner: hello{}}}
	assert.Equal(t, "hi", MustPortsOf[greeter](m).Greet())

	_, ok := PortsOf[greeter](&stub{ports: 3})
	assert.False(t, ok)
	assert.Panics(t, func() { MustPortsOf[greeter](&stub{}) })

	assert.NoError(t, m.Close())
	assert.True(t, m.closed)
}
