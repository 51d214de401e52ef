// Package config resolves which snapshot sink a workspace writes to and how
// it commits. Values come from defaults, an optional YAML file and POCKETDB_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"pocketdb/internal/snapshot"
)

// Environment variables.
const (
	EnvDriver       = "POCKETDB_DRIVER"
	EnvPath         = "POCKETDB_PATH"
	EnvDSN          = "POCKETDB_DSN"
	EnvS3Bucket     = "POCKETDB_S3_BUCKET"
	EnvS3Region     = "POCKETDB_S3_REGION"
	EnvS3Endpoint   = "POCKETDB_S3_ENDPOINT"
	EnvS3PathStyle  = "POCKETDB_S3_PATH_STYLE"
	EnvS3Key        = "POCKETDB_S3_KEY"
	EnvAsyncCommit  = "POCKETDB_ASYNC_COMMIT"
	EnvStrictReload = "POCKETDB_STRICT_RELOAD"
)

// S3 carries the object location for the s3 driver.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	Key       string `yaml:"key"`
	PathStyle bool   `yaml:"path_style"`
}

// Config selects and parameterizes the snapshot sink.
type Config struct {
	Driver snapshot.Driver `yaml:"driver" validate:"required,oneof=file memory sqlite postgres s3 badger"`
	// Path is the file, sqlite database or badger directory location.
	Path         string `yaml:"path"`
	DSN          string `yaml:"dsn"`
	S3           S3     `yaml:"s3"`
	AsyncCommit  bool   `yaml:"async_commit"`
	StrictReload bool   `yaml:"strict_reload"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterStructValidation(validateDriverSettings, Config{})
}

func validateDriverSettings(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if cfg.Driver == snapshot.DriverS3 && cfg.S3.Bucket == "" {
		sl.ReportError(cfg.S3.Bucket, "S3.Bucket", "Bucket", "required_for_s3", "")
	}
}

// Default returns the file driver writing next to the working directory.
func Default() Config {
	return Config{Driver: snapshot.DriverFile}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.mergeEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv is Load without a file.
func FromEnv() (Config, error) { return Load("") }

// Validate checks driver names and driver-specific requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = b
		return nil
	}
	var driver string
	str(EnvDriver, &driver)
	if driver != "" {
		c.Driver = snapshot.Driver(strings.ToLower(driver))
	}
	str(EnvPath, &c.Path)
	str(EnvDSN, &c.DSN)
	str(EnvS3Bucket, &c.S3.Bucket)
	str(EnvS3Region, &c.S3.Region)
	str(EnvS3Endpoint, &c.S3.Endpoint)
	str(EnvS3Key, &c.S3.Key)
	return errors.Join(
		flag(EnvS3PathStyle, &c.S3.PathStyle),
		flag(EnvAsyncCommit, &c.AsyncCommit),
		flag(EnvStrictReload, &c.StrictReload),
	)
}
