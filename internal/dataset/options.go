package dataset

import (
	"log/slog"

	"deadline/pkg/domain"
)

// Option customises dataset construction and loading.
type Option func(*options)

type options struct {
	random domain.RandomSource
	logger *slog.Logger
	digest string
}

// WithRandom sets the source random config values are sampled from.
func WithRandom(src domain.RandomSource) Option {
	return func(o *options) {
		if src != nil {
			o.random = src
		}
	}
}

// WithLogger sets the logger used while loading bundles.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func withDigest(digest string) Option {
	return func(o *options) { o.digest = digest }
}

func applyOptions(opts []Option) options {
	o := options{random: domain.DefaultRandom{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
