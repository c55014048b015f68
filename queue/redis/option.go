package redis

import (
	"os"
	"strconv"
	"time"
)

// Default configuration values.
const (
	DefaultStream  = "messaging:deliveries"
	DefaultGroup   = "fanout"
	DefaultBlock   = 2 * time.Second
	DefaultMinIdle = 60 * time.Second
)

// options holds Redis queue configuration.
type options struct {
	stream   string
	group    string
	consumer string
	block    time.Duration
	minIdle  time.Duration
}

func newOptions(opts ...Option) *options {
	o := &options{
		stream:  DefaultStream,
		group:   DefaultGroup,
		block:   DefaultBlock,
		minIdle: DefaultMinIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.consumer == "" {
		host, _ := os.Hostname()
		o.consumer = host + "-" + strconv.Itoa(os.Getpid())
	}
	return o
}

// Option configures a Redis queue.
type Option func(*options)

// WithStream sets the stream key.
func WithStream(name string) Option {
	return func(o *options) {
		if name != "" {
			o.stream = name
		}
	}
}

// WithGroup sets the consumer group name.
func WithGroup(name string) Option {
	return func(o *options) {
		if name != "" {
			o.group = name
		}
	}
}

// WithConsumer sets this instance's consumer name within the group.
// Defaults to hostname-pid.
func WithConsumer(name string) Option {
	return func(o *options) {
		if name != "" {
			o.consumer = name
		}
	}
}

// WithBlock sets how long Receive blocks waiting for new entries.
func WithBlock(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.block = d
		}
	}
}

// WithMinIdle sets how long a pending entry must sit idle before another
// consumer may reclaim it.
func WithMinIdle(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.minIdle = d
		}
	}
}
