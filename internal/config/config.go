// Package config resolves runtime configuration from the environment.
// Binaries override individual fields from their flags after Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/biomech-analyzer/internal/frames"
	"github.com/fpang/biomech-analyzer/internal/gemini"
	"github.com/fpang/biomech-analyzer/internal/landmark"
	"github.com/fpang/biomech-analyzer/internal/logging"
	"github.com/fpang/biomech-analyzer/internal/pgdb"
	"github.com/fpang/biomech-analyzer/internal/pipeline"
	"github.com/fpang/biomech-analyzer/internal/rag"
)

// Environment variables read by Load.
const (
	EnvReferenceDir    = "REFERENCE_DIR"
	EnvReferenceBucket = "REFERENCE_BUCKET"
	EnvReferencePrefix = "REFERENCE_PREFIX"
	EnvDynamoTable     = "DYNAMO_TABLE_NAME"
	EnvRedisURL        = "REDIS_URL"
	EnvMediaBucket     = "MEDIA_BUCKET_NAME"
	EnvSessionTimeout  = "SESSION_TIMEOUT"
	EnvWorkers         = "BIOMECH_WORKERS"
	EnvFrames          = "BIOMECH_FRAMES"
	EnvStore           = "BIOMECH_STORE"
	EnvStoreDir        = "BIOMECH_STORE_DIR"
	EnvNoLandmarks     = "BIOMECH_NO_LANDMARKS"
)

// Store backends.
const (
	StoreFile     = "file"
	StoreDynamo   = "dynamo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the resolved configuration shared by every binary.
type Config struct {
	Model          string
	NarrativeModel string
	EmbedModel     string

	LandmarkURL  string
	NoLandmarks  bool
	ReferenceDir string
	// ReferenceBucket, when set, takes precedence over ReferenceDir.
	ReferenceBucket string
	ReferencePrefix string

	Store       string
	StoreDir    string
	DynamoTable string
	DatabaseURL string
	RedisURL    string
	MediaBucket string

	Frames         int
	Workers        int
	SessionTimeout time.Duration
}

// Load reads the environment. Invalid numeric or duration values are errors
// rather than silently defaulted.
func Load() (*Config, error) {
	c := &Config{
		Model:           gemini.GetModelName(),
		NarrativeModel:  gemini.GetNarrativeModelName(),
		EmbedModel:      gemini.GetEmbeddingModelName(),
		LandmarkURL:     logging.EnvOrDefault(landmark.EnvServiceURL, landmark.DefaultServiceURL),
		ReferenceDir:    logging.EnvOrDefault(EnvReferenceDir, "references"),
		ReferenceBucket: os.Getenv(EnvReferenceBucket),
		ReferencePrefix: os.Getenv(EnvReferencePrefix),
		Store:           logging.EnvOrDefault(EnvStore, StoreFile),
		StoreDir:        logging.EnvOrDefault(EnvStoreDir, "analyses"),
		DynamoTable:     os.Getenv(EnvDynamoTable),
		DatabaseURL:     os.Getenv(pgdb.EnvDatabaseURL),
		RedisURL:        os.Getenv(EnvRedisURL),
		MediaBucket:     os.Getenv(EnvMediaBucket),
		Frames:          frames.DefaultCount,
		Workers:         pipeline.DefaultWorkers,
		SessionTimeout:  pipeline.DefaultSessionTimeout,
	}

	var err error
	if c.Frames, err = intEnv(EnvFrames, c.Frames); err != nil {
		return nil, err
	}
	if c.Workers, err = intEnv(EnvWorkers, c.Workers); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvSessionTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvSessionTimeout, err)
		}
		c.SessionTimeout = d
	}
	if v := os.Getenv(EnvNoLandmarks); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvNoLandmarks, err)
		}
		c.NoLandmarks = b
	}
	return c, c.Validate()
}

// Validate checks field ranges and backend requirements.
func (c *Config) Validate() error {
	if c.Frames < 1 {
		return fmt.Errorf("frames must be at least 1, got %d", c.Frames)
	}
	if c.Workers < 1 || c.Workers > pipeline.MaxWorkers {
		return fmt.Errorf("workers must be between 1 and %d, got %d", pipeline.MaxWorkers, c.Workers)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %s", c.SessionTimeout)
	}
	switch strings.ToLower(c.Store) {
	case StoreFile, StoreMemory:
	case StoreDynamo:
		if c.DynamoTable == "" {
			return fmt.Errorf("store %q requires %s", c.Store, EnvDynamoTable)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store %q requires %s", c.Store, pgdb.EnvDatabaseURL)
		}
	default:
		return fmt.Errorf("unknown store %q (want file, dynamo, postgres or memory)", c.Store)
	}
	return nil
}

// UsesVector reports whether the pgvector knowledge index is configured.
func (c *Config) UsesVector() bool {
	return c.DatabaseURL != ""
}

// CacheTTL is the retrieval cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return rag.DefaultCacheTTL
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
