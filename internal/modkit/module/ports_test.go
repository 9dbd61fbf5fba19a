package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter interface{ Count() int }

type fixed int

func (f fixed) Count() int { return int(f) }

type fake struct {
	name  string
	ports any
}

func (f fake) Name() string { return f.name }
func (f fake) Ports() any   { return f.ports }
func (f fake) Close() error { return nil }

type bundle struct {
	Label  string
	Runner counter
}

func TestPortsOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		ports any
		want  int
		ok    bool
	}{
		{"nil bundle", nil, 0, false},
		{"bundle is the port", counter(fixed(4)), 4, true},
		{"struct field", bundle{Label: "x", Runner: fixed(7)}, 7, true},
		{"pointer to struct", &bundle{Runner: fixed(9)}, 9, true},
		{"nil pointer", (*bundle)(nil), 0, false},
		{"nil interface field", bundle{Label: "x"}, 0, false},
		{"unexported field", struct{ runner counter }{fixed(1)}, 0, false},
		{"not a struct", 3, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := PortsOf[counter](fake{name: "analysis", ports: tc.ports})
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, got.Count())
			}
		})
	}
}

func TestMustPortsOf(t *testing.T) {
	t.Parallel()

	got := MustPortsOf[counter](fake{name: "ingest", ports: bundle{Runner: fixed(2)}})
	assert.Equal(t, 2, got.Count())

	assert.PanicsWithValue(t, "module ingest: no port of type module.counter", func() {
		MustPortsOf[counter](fake{name: "ingest"})
	})
}
