package broker

import (
	"crypto/tls"

	xlog "go.holon.dev/runtime/log"
)

// Option adjusts the settings used when opening a new session.
type Option func(s *session) error

// WithName sets an identifier for the session instance, used to prefix
// generated queue/consumer names. A random name is generated if not set.
func WithName(name string) Option {
	return func(s *session) error {
		s.name = name
		return nil
	}
}

// WithTLS enables TLS (AMQPS) using the provided configuration. A nil
// configuration leaves the session on a plain, unencrypted connection.
func WithTLS(conf *tls.Config) Option {
	return func(s *session) error {
		s.tlsConf = conf
		return nil
	}
}

// WithTopology declares the exchanges, queues, and bindings the session
// should ensure exist every time it connects (including after a reconnect).
func WithTopology(t Topology) Option {
	return func(s *session) error {
		s.topology = t
		return nil
	}
}

// WithPrefetch adjusts the AMQP QoS settings used by the session's channel.
func WithPrefetch(count, size int) Option {
	return func(s *session) error {
		s.prefetchCount = count
		s.prefetchSize = size
		return nil
	}
}

// WithLogger attaches a logger instance used to report internal session
// events. Defaults to a discard logger.
func WithLogger(log xlog.Logger) Option {
	return func(s *session) error {
		s.log = log
		return nil
	}
}

// WithRPC sets the session's RPC flag. No operation in this package reads
// the flag; Publisher.RequestRPC works with or without it.
func WithRPC() Option {
	return func(s *session) error {
		s.rpcEnabled = true
		return nil
	}
}
