package extws

import (
	"github.com/google/uuid"
	gometrics "github.com/rcrowley/go-metrics"
)

type options struct {
	logger  Logger
	newID   func() string
	metrics gometrics.Registry

	onConnect    func(*Conn)
	onDisconnect func(*Conn)
	// onError receives decode and handler errors. The connection stays open.
	onError func(*Conn, error)
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithIDGenerator replaces the uuid connection id generator. Ids must be
// unique among live connections; a duplicate panics.
func WithIDGenerator(f func() string) Option {
	return func(o *options) {
		o.newID = f
	}
}

// WithMetricsRegistry records server metrics in reg instead of a private registry.
func WithMetricsRegistry(reg gometrics.Registry) Option {
	return func(o *options) {
		o.metrics = reg
	}
}

// OnConnect is called after a connection is registered and its init frame sent.
func OnConnect(cb func(*Conn)) Option {
	return func(o *options) {
		o.onConnect = cb
	}
}

// OnDisconnect is called once per connection, after teardown.
func OnDisconnect(cb func(*Conn)) Option {
	return func(o *options) {
		o.onDisconnect = cb
	}
}

// OnError is called for frames that fail to decode or dispatch.
func OnError(cb func(*Conn, error)) Option {
	return func(o *options) {
		o.onError = cb
	}
}

func checkOptions(o *options) {
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.metrics == nil {
		o.metrics = gometrics.NewRegistry()
	}
	if o.onConnect == nil {
		o.onConnect = func(*Conn) {}
	}
	if o.onDisconnect == nil {
		o.onDisconnect = func(*Conn) {}
	}
	if o.onError == nil {
		logger := o.logger
		o.onError = func(c *Conn, err error) {
			logger.Warn("message dropped", "id", c.ID(), "error", err)
		}
	}
}
