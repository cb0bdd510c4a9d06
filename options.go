package hfsm

import "go.uber.org/zap"

// DefaultMaxRedirects bounds the redirect hops one trigger may follow
const DefaultMaxRedirects = 32

// Option configures a machine at construction
type Option func(*machineOptions)

type machineOptions struct {
	initial      string
	receivers    []registration
	logger       *zap.Logger
	maxRedirects int
}

func defaultOptions() *machineOptions {
	return &machineOptions{
		logger:       zap.NewNop(),
		maxRedirects: DefaultMaxRedirects,
	}
}

// WithInitial names the child entered on start. Without it the first child
// is used.
func WithInitial(name string) Option {
	return func(o *machineOptions) {
		o.initial = name
	}
}

// WithReceiver registers a receiver before the machine is started
func WithReceiver(id string, receiver Receiver, payload any) Option {
	return func(o *machineOptions) {
		o.receivers = append(o.receivers, registration{id: id, receiver: receiver, payload: payload})
	}
}

// WithObserver registers an Observer before the machine is started
func WithObserver(id string, observer Observer, payload any) Option {
	return WithReceiver(id, observer.Receive, payload)
}

// WithLogger sets the logger used by the machine tree. Nested machines log
// through the logger of the root they are placed in.
func WithLogger(logger *zap.Logger) Option {
	return func(o *machineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxRedirects sets how many redirect hops a single trigger may follow
func WithMaxRedirects(n int) Option {
	return func(o *machineOptions) {
		if n >= 0 {
			o.maxRedirects = n
		}
	}
}
