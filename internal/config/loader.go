package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig. Type identifies the failing stage.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: DATABASE_URL_SSM_PARAM holds the
// parameter path whose value becomes DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

const ssmResolveTimeout = 30 * time.Second

// environment abstracts the process environment so tests do not mutate it.
type environment struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	entries func() []string
}

func osEnvironment() environment {
	return environment{
		lookup:  os.LookupEnv,
		set:     os.Setenv,
		entries: os.Environ,
	}
}

// LoadConfig loads, resolves and validates the configuration.
//
// Order of operations:
//  1. Force the process timezone to UTC.
//  2. Load .env if present. Existing variables are never overridden.
//  3. Outside APP_ENV=local, resolve *_SSM_PARAM pointers through provider.
//  4. Populate Config from envconfig tags and attach BuildInfo.
//  5. Run struct validation, then cross-field checks.
//
// provider may be nil for local development.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return load(provider, osEnvironment())
}

func load(provider SecretProvider, env environment) (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	if appEnv, _ := env.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := cfg.validateCrossField(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateCrossField enforces rules the struct tags cannot express.
func (c *Config) validateCrossField() error {
	if c.Throttle.Backend == ThrottleBackendRedis && !c.Throttle.RedisURL.IsSet() {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "THROTTLE_REDIS_URL is required when THROTTLE_BACKEND=redis",
		}
	}
	if c.Send.AttemptMaxDelay < c.Send.AttemptBaseDelay {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("SEND_ATTEMPT_MAX_DELAY (%s) must be >= SEND_ATTEMPT_BASE_DELAY (%s)", c.Send.AttemptMaxDelay, c.Send.AttemptBaseDelay),
		}
	}
	// A memory backend only coordinates goroutines of one process, which is
	// not enough once the worker scales out.
	if c.Throttle.Backend == ThrottleBackendMemory && (c.Environment == "staging" || c.Environment == "prod") {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("THROTTLE_BACKEND=memory is not allowed in %s", c.Environment),
		}
	}
	return nil
}

// resolveSSMParams fetches every *_SSM_PARAM pointer whose target variable is
// unset and writes the values back into the environment for envconfig.
func resolveSSMParams(provider SecretProvider, env environment) error {
	targets := make(map[string]string) // ssm path -> target variable
	var paths []string

	for _, entry := range env.entries() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := env.lookup(target); set {
			continue
		}
		if _, dup := targets[path]; !dup {
			paths = append(paths, path)
		}
		targets[path] = target
	}

	if len(paths) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targetNames(paths, targets), ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmResolveTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range paths {
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, targets[path])
			continue
		}
		if err := env.set(targets[path], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", targets[path]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}

func targetNames(paths []string, targets map[string]string) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, targets[p])
	}
	return names
}
