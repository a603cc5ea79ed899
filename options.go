package blocksync

import (
	"github.com/rs/zerolog"

	"github.com/aweris/blocksync/internal/remote"
)

// Authenticator provides credentials for remote registries.
type Authenticator = remote.Authenticator

// Options configures a replica or a standalone store.
type Options struct {
	User             UserID
	Logger           zerolog.Logger
	CacheSize        int
	Compression      bool
	CompressionLevel int
	Remote           string
	Auth             Authenticator
	Concurrency      int
}

// Option is a functional option for Open and OpenStore.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:           zerolog.Nop(),
		CacheSize:        1024,
		Compression:      true,
		CompressionLevel: 2,
		Concurrency:      remote.DefaultConcurrency,
	}
}

// WithUser pins the replica identity instead of using the one persisted
// in (or minted for) the store directory.
func WithUser(u UserID) Option {
	return func(o *Options) { o.User = u }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

// WithCacheSize sets the in-memory object cache capacity.
func WithCacheSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.CacheSize = n
		}
	}
}

// WithCompression sets the zstd level (1 fastest, 3 best) for objects
// at rest.
func WithCompression(level int) Option {
	return func(o *Options) {
		o.Compression = true
		o.CompressionLevel = level
	}
}

// WithoutCompression stores objects raw.
func WithoutCompression() Option {
	return func(o *Options) { o.Compression = false }
}

// WithRemote configures an OCI registry ref (e.g. "ttl.sh/org/repo:main")
// as the exchange point for Push and Pull.
func WithRemote(imageRef string) Option {
	return func(o *Options) { o.Remote = imageRef }
}

// WithAuth sets custom registry authentication.
func WithAuth(auth Authenticator) Option {
	return func(o *Options) { o.Auth = auth }
}

// WithConcurrency sets the number of parallel transfer operations.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}
