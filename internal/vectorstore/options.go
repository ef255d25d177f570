package vectorstore

import "github.com/fagpt/fagpt/internal/element"

// SearchOption configures search behavior using the functional options
// pattern (as in context.WithTimeout, grpc.Dial).
type SearchOption func(*searchConfig)

type searchConfig struct {
	limit int
	types []element.Type
}

// WithLimit sets the maximum number of results to return. Default is 30.
func WithLimit(n int) SearchOption {
	return func(c *searchConfig) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithTypes restricts the search to the given element types.
// No call (or an empty list) searches all types.
func WithTypes(types ...element.Type) SearchOption {
	return func(c *searchConfig) {
		c.types = types
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{limit: 30}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
