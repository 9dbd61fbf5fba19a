// Package module holds the contract each service module satisfies and the
// helpers commands use to pull ports out of it
package module

// Module is a wired service. Ports returns a bundle, usually a struct of
// interfaces, that commands query with PortsOf
type Module interface {
	Name() string
	Ports() any
	Close() error
}
