package main

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
)

// Supported values for the CHECKPOINT_BACKEND variable.
const (
	backendMemory    = "memory"
	backendSQLite    = "sqlite"
	backendPostgres  = "postgres"
	backendMongoDB   = "mongodb"
	backendFirestore = "firestore"
)

type config struct {
	Backend       string        `default:"sqlite" required:"true"`
	DSN           string        `default:"checkpoints.db"`
	Stream        string        `required:"true"`
	EventType     string        `default:"Checkpoint" split_words:"true"`
	FlushInterval time.Duration `default:"1s" split_words:"true"`
	LogLevel      zapcore.Level `default:"info" split_words:"true"`

	Firestore struct {
		Project string
	}

	MongoDB struct {
		Database string `default:"checkpoints"`
	}
}

func (c *config) validate() error {
	if c.Stream == "" {
		return fmt.Errorf("config: CHECKPOINT_STREAM must not be empty")
	}

	switch c.Backend {
	case backendMemory, backendSQLite, backendPostgres, backendMongoDB:
	case backendFirestore:
		if c.Firestore.Project == "" {
			return fmt.Errorf("config: CHECKPOINT_FIRESTORE_PROJECT is required with the %q backend", c.Backend)
		}
	default:
		return fmt.Errorf("config: unsupported backend %q", c.Backend)
	}

	return nil
}

func parseConfig() (*config, error) {
	var config config

	if err := envconfig.Process("checkpoint", &config); err != nil {
		return nil, fmt.Errorf("config: failed to parse from env, %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
