// Package raw reads the handful of env vars needed before the logger exists.
// It must not import logger or config
package raw

import (
	"os"
	"strconv"
	"strings"
)

// Env resolves keys against an ordered list of prefixes; the first non empty value wins
type Env struct {
	prefixes []string
	lookup   func(string) string
}

// New returns an Env that tries each prefix in order. With no prefix keys are used as is
func New(prefixes ...string) Env {
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	return Env{prefixes: prefixes, lookup: os.Getenv}
}

// WithLookup replaces the environment source
func (e Env) WithLookup(fn func(string) string) Env {
	e.lookup = fn
	return e
}

func (e Env) value(key string) (string, bool) {
	for _, p := range e.prefixes {
		if v := strings.TrimSpace(e.lookup(p + key)); v != "" {
			return v, true
		}
	}
	return "", false
}

// String returns the first set value or def
func (e Env) String(key, def string) string {
	if v, ok := e.value(key); ok {
		return v
	}
	return def
}

// Bool accepts strconv.ParseBool forms plus yes/no/on/off; anything else is def
func (e Env) Bool(key string, def bool) bool {
	v, ok := e.value(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int returns a non negative integer or def
func (e Env) Int(key string, def int) int {
	v, ok := e.value(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
