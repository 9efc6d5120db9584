package engine

// Options configures an Engine at Open time (spec.md §6).
type Options struct {
	// Serializer names the value codec applied symmetrically to every
	// user value: "plain" (bytes passthrough) or "json" (validated and
	// normalized). Unknown names fall back to "plain".
	Serializer string
	// CacheCapacity bounds the LRU value cache. 0 disables caching.
	CacheCapacity int
	// SecondaryIndexedFields lists the top-level JSON fields tracked by
	// the secondary index. An empty list disables it.
	SecondaryIndexedFields []string
}

var defaultOptions = Options{
	Serializer:    "plain",
	CacheCapacity: 1024,
}

// Option mutates an Options value being built up by Open.
type Option func(*Options)

// WithSerializer selects the value serializer by name.
func WithSerializer(name string) Option {
	return func(o *Options) { o.Serializer = name }
}

// WithCacheCapacity sets the LRU value cache capacity.
func WithCacheCapacity(n int) Option {
	return func(o *Options) { o.CacheCapacity = n }
}

// WithSecondaryIndexedFields enables the secondary index over the
// given top-level JSON field names.
func WithSecondaryIndexedFields(fields ...string) Option {
	return func(o *Options) { o.SecondaryIndexedFields = fields }
}

func buildOptions(opts []Option) Options {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
