package bloom

import "github.com/mirkobrombin/go-foundation/pkg/options"

// Option adjusts the parameters passed to New.
type Option = options.Option[Params]

// WithVersion selects the hashing strategy and record layout.
func WithVersion(v Version) Option {
	return func(p *Params) {
		p.Version = v
	}
}

// WithVariant selects a classic or scalable filter.
func WithVariant(variant Variant) Option {
	return func(p *Params) {
		p.Variant = variant
	}
}
