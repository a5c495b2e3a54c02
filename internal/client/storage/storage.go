// Package storage provides the durable key-value collaborator behind the
// session store. Values are whole serialized strings; a write is never
// partially visible.
//
// Each Storage instance has an origin id, the equivalent of a browser tab.
// Watch reports changes written by other origins only, mirroring how a
// storage-change notification never fires in the tab that wrote the value.
package storage

import (
	"context"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/logging"
	"github.com/google/uuid"
)

// Change describes a write made by another origin.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Origin  string `json:"origin"`
}

// Storage is the durable storage contract.
//
// Get returns ok=false when the key is absent. Watch returns a channel of
// foreign changes to key, closed once ctx is done.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Watch(ctx context.Context, key string) (<-chan Change, error)
	Origin() string
	Close() error
}

type options struct {
	origin       string
	pollInterval time.Duration
	logger       logging.Logger
}

// Option customizes a Storage implementation.
type Option func(*options)

// WithOrigin fixes the origin id instead of generating one.
func WithOrigin(origin string) Option {
	return func(o *options) { o.origin = origin }
}

// WithPollInterval sets how often polling implementations look for changes.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithLogger sets the logger for background watch errors.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{pollInterval: 500 * time.Millisecond}
	for _, fn := range opts {
		fn(&o)
	}
	if o.origin == "" {
		o.origin = uuid.NewString()
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	if o.pollInterval <= 0 {
		o.pollInterval = 500 * time.Millisecond
	}
	return o
}
