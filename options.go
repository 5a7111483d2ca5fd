// Open options and defaults.
//
// Options follows the zero-value convention: Open fills in anything left
// unset, so Options{Path: "/data", StorageName: "users", SType: DiskCopies}
// is a complete configuration. OptionsFromEnv builds the same bundle from
// QUIRE_* environment variables for processes configured by their runtime.
package quire

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// StorageType selects whether a datastore is backed by the paged log.
type StorageType int

const (
	// InMemoryOnly keeps all state in memory. Nothing survives Close.
	InMemoryOnly StorageType = iota

	// DiskCopies appends every mutation to the paged log before applying
	// it, and replays the log on Open.
	DiskCopies
)

// Options configures a datastore at Open time.
type Options struct {
	// Path is the filesystem root. The datastore writes its pages under
	// Path/StorageName. Required for DiskCopies.
	Path string `env:"QUIRE_PATH"`

	// StorageName identifies the datastore and names its page directory.
	StorageName string `env:"QUIRE_STORAGE_NAME"`

	// TotalPageSize bounds each page file in bytes. A page is closed and
	// the next one started when an append would exceed this size.
	TotalPageSize int64 `env:"QUIRE_PAGE_SIZE" envDefault:"4194304"`

	// SType selects durability. InMemoryOnly skips the log entirely.
	SType StorageType `env:"QUIRE_STORAGE_TYPE"`

	// HashAlgorithm selects the shard hash for the concurrent maps.
	// One of AlgXXHash3 (default), AlgFNV1a, AlgBlake2b.
	HashAlgorithm int `env:"QUIRE_HASH_ALGORITHM"`

	// DisableSearch turns off the full-text index. Search returns no
	// results and SearchText is never tokenised.
	DisableSearch bool `env:"QUIRE_DISABLE_SEARCH"`

	// SlowSubscriberTimeout bounds how long the router blocks on a full
	// subscriber sink before dropping it. Zero blocks forever.
	SlowSubscriberTimeout time.Duration `env:"QUIRE_SLOW_SUBSCRIBER_TIMEOUT"`

	// AppendQueue bounds the log service request channel.
	AppendQueue int `env:"QUIRE_APPEND_QUEUE" envDefault:"128"`

	// RouterQueue bounds the router service request channel.
	RouterQueue int `env:"QUIRE_ROUTER_QUEUE" envDefault:"128"`

	// CompressThreshold is the payload size in bytes above which log
	// records are zstd-compressed. Zero applies the default; negative
	// disables compression.
	CompressThreshold int `env:"QUIRE_COMPRESS_THRESHOLD"`

	// Logger receives warnings (index collisions, recovery truncation,
	// dropped subscribers). Defaults to a no-op logger.
	Logger *zap.Logger `env:"-"`

	// Metrics registers the datastore's counters and gauges. Nil leaves
	// them unregistered.
	Metrics prometheus.Registerer `env:"-"`
}

// Default tuning values applied by withDefaults.
const (
	DefaultPageSize          = 4 * 1024 * 1024
	DefaultQueueDepth        = 128
	DefaultCompressThreshold = 1024
)

// OptionsFromEnv reads an Options bundle from QUIRE_* environment
// variables. TotalPageSize, AppendQueue, and RouterQueue take their
// envDefault values when unset; other fields not present in the
// environment keep their zero value and are defaulted by Open as usual.
func OptionsFromEnv() (Options, error) {
	return env.ParseAs[Options]()
}

// withDefaults returns a copy with unset fields filled in.
func (o Options) withDefaults() Options {
	if o.TotalPageSize == 0 {
		o.TotalPageSize = DefaultPageSize
	}
	if o.HashAlgorithm == 0 {
		o.HashAlgorithm = AlgXXHash3
	}
	if o.AppendQueue == 0 {
		o.AppendQueue = DefaultQueueDepth
	}
	if o.RouterQueue == 0 {
		o.RouterQueue = DefaultQueueDepth
	}
	if o.CompressThreshold == 0 {
		o.CompressThreshold = DefaultCompressThreshold
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// validate rejects bundles Open cannot act on.
func (o Options) validate() error {
	if o.TotalPageSize < 0 {
		return errors.Wrap(ErrInvalidOptions, "TotalPageSize must be positive")
	}
	if o.SType == DiskCopies {
		if o.Path == "" {
			return errors.Wrap(ErrInvalidOptions, "Path is required for DiskCopies")
		}
		if o.StorageName == "" {
			return errors.Wrap(ErrInvalidOptions, "StorageName is required for DiskCopies")
		}
	}
	return nil
}
