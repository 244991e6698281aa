package config

import (
	"errors"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/storage"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for configurations that cannot be run.
var ErrInvalidConfig = errors.New("invalid configuration")

// Backend kinds.
const (
	KindMemory = "memory"
	KindBadger = "badger"
	KindAzure  = "azure"
)

// Config is the YAML configuration of a castor node.
type Config struct {
	// FragmentSize is the number of tuples per fragment of new chunks.
	FragmentSize int64  `yaml:"fragmentSize"`
	Role         string `yaml:"role"`
	// Followers are the base URLs a designator propagates to.
	Followers []string `yaml:"followers"`
	Listen    string   `yaml:"listen"`

	Store StoreConfig `yaml:"store"`
	Blob  BlobConfig  `yaml:"blob"`

	// Backoff drives the retries of conflicting transactions.
	Backoff storage.Backoff `yaml:"backoff"`
	// Propagation drives the retries of a delivery to one follower.
	Propagation storage.Backoff `yaml:"propagation"`
	Follower    FollowerConfig  `yaml:"follower"`

	LogLevel string `yaml:"logLevel"`
}

// StoreConfig selects the transactional store.
type StoreConfig struct {
	Kind string `yaml:"kind"`
	// Dir is the badger directory. Empty runs badger in memory.
	Dir string `yaml:"dir"`
}

// BlobConfig selects where chunk payloads are kept.
type BlobConfig struct {
	Kind             string `yaml:"kind"`
	Dir              string `yaml:"dir"`
	ConnectionString string `yaml:"connectionString"`
	Container        string `yaml:"container"`
}

// FollowerConfig holds the settings of a follower.
type FollowerConfig struct {
	// Wait bounds how long a reservation request waits for the designator's
	// decision to arrive.
	Wait storage.Backoff `yaml:"wait"`
}

// Default returns the configuration of a standalone in-memory designator.
func Default() Config {
	return Config{
		FragmentSize: 1000,
		Role:         string(peer.RoleDesignator),
		Listen:       "127.0.0.1:8080",
		Store:        StoreConfig{Kind: KindMemory},
		Blob:         BlobConfig{Kind: KindMemory},
		Backoff:      storage.DefaultBackoff,
		Propagation: storage.Backoff{
			Initial: 100 * time.Millisecond,
			Factor:  2,
			Retry:   5,
		},
		Follower: FollowerConfig{
			Wait: storage.Backoff{
				Initial: 50 * time.Millisecond,
				Factor:  2,
				Retry:   8,
			},
		},
		LogLevel: "info",
	}
}

// FromYAML reads the configuration at path. Missing fields keep their
// default value.
func FromYAML(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, xerrors.Errorf("failed to read config: %v", err)
	}
	return Parse(buf)
}

// Parse decodes and validates a YAML configuration.
func Parse(buf []byte) (Config, error) {
	c := Default()
	err := yaml.Unmarshal(buf, &c)
	if err != nil {
		return Config{}, xerrors.Errorf("failed to decode config: %v: %w", err, ErrInvalidConfig)
	}
	return c, c.Validate()
}

// Validate checks that the configuration can be run.
func (c Config) Validate() error {
	if c.FragmentSize <= 0 {
		return xerrors.Errorf("fragmentSize must be positive, got %d: %w", c.FragmentSize, ErrInvalidConfig)
	}

	switch peer.Role(c.Role) {
	case peer.RoleDesignator:
		for _, f := range c.Followers {
			u, err := url.Parse(f)
			if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
				return xerrors.Errorf("follower %q is not an http url: %w", f, ErrInvalidConfig)
			}
		}
	case peer.RoleFollower:
		if len(c.Followers) > 0 {
			return xerrors.Errorf("a follower has no followers: %w", ErrInvalidConfig)
		}
	default:
		return xerrors.Errorf("unknown role %q: %w", c.Role, ErrInvalidConfig)
	}

	if c.Listen == "" {
		return xerrors.Errorf("listen address missing: %w", ErrInvalidConfig)
	}

	switch c.Store.Kind {
	case KindMemory, KindBadger:
	default:
		return xerrors.Errorf("unknown store kind %q: %w", c.Store.Kind, ErrInvalidConfig)
	}

	switch c.Blob.Kind {
	case KindMemory, KindBadger:
	case KindAzure:
		if c.Blob.ConnectionString == "" || c.Blob.Container == "" {
			return xerrors.Errorf("azure blobs need a connection string and a container: %w", ErrInvalidConfig)
		}
	default:
		return xerrors.Errorf("unknown blob kind %q: %w", c.Blob.Kind, ErrInvalidConfig)
	}

	if c.Backoff.Retry == 0 || c.Follower.Wait.Retry == 0 || c.Propagation.Retry == 0 {
		return xerrors.Errorf("retry counts must be positive: %w", ErrInvalidConfig)
	}

	_, err := c.Level()
	return err
}

// Level returns the zerolog level of the configuration.
func (c Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.NoLevel, xerrors.Errorf("log level %q: %w", c.LogLevel, ErrInvalidConfig)
	}
	return level, nil
}
