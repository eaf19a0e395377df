// Package config loads typed configuration structs from the process environment.
//
// Each service package owns its config struct and declares variables with
// `env` / `envDefault` tags understood by github.com/caarlos0/env/v11. The
// default `.env` file in the working directory is read once, lazily, before
// the first parse; variables already present in the environment win.
//
//	var cfg billing.StripeConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvOnce sync.Once

// LoadEnv reads the given .env files into the process environment without
// overriding variables that are already set. Unlike the implicit default
// file, explicitly named files must exist.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// Load parses environment variables into v according to its field tags.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	defaultEnvOnce.Do(func() {
		// The default file is optional.
		_ = godotenv.Load()
	})

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics on failure. Intended for startup code
// where a missing required variable must prevent the process from serving.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
