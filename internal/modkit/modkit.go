// Package modkit carries the shared deps and port lookup the commands use to
// wire the ingest and analysis modules
package modkit

import "ghstrata/internal/modkit/module"

type Module = module.Module

// PortsOf pulls an interface T out of a module's Ports bundle
func PortsOf[T any](m Module) (T, bool) { return module.PortsOf[T](m) }

// MustPortsOf panics when m does not expose T
func MustPortsOf[T any](m Module) T { return module.MustPortsOf[T](m) }
