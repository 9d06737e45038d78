// Package config loads the dosecore configuration: a YAML file overlaid by
// DOSECORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"dosecore/internal/blob"
	"dosecore/internal/dosing"
	"dosecore/internal/infra/persistence/sqlite"
	"dosecore/internal/safety"
	"dosecore/internal/storage"
	"dosecore/internal/supply"
)

// Environment overrides.
const (
	EnvStorageDriver   = "DOSECORE_STORAGE_DRIVER"
	EnvSQLitePath      = "DOSECORE_SQLITE_PATH"
	EnvPostgresDSN     = "DOSECORE_POSTGRES_DSN"
	EnvBlobDriver      = "DOSECORE_BLOB_DRIVER"
	EnvBlobFSRoot      = "DOSECORE_BLOB_FS_ROOT"
	EnvBlobPrefix      = "DOSECORE_BLOB_PREFIX"
	EnvBlobS3Bucket    = "DOSECORE_BLOB_S3_BUCKET"
	EnvBlobS3Region    = "DOSECORE_BLOB_S3_REGION"
	EnvBlobS3Endpoint  = "DOSECORE_BLOB_S3_ENDPOINT"
	EnvBlobS3PathStyle = "DOSECORE_BLOB_S3_PATH_STYLE"
	EnvSafetyLimits    = "DOSECORE_SAFETY_LIMITS"
)

// Config is the full process configuration.
type Config struct {
	Storage storage.Config `yaml:"storage"`
	Dosing  DosingConfig   `yaml:"dosing"`
	Supply  SupplyConfig   `yaml:"supply"`
	Safety  SafetyConfig   `yaml:"safety"`
	Log     LogConfig      `yaml:"log"`
}

// DosingConfig tunes the calculator.
type DosingConfig struct {
	MaxConcentrationMgPerMl float64 `yaml:"max_concentration_mg_per_ml"`
	// BufferPercent is the default safety margin for supply plans that do
	// not name one.
	BufferPercent float64 `yaml:"buffer_percent"`
}

// SupplyConfig mirrors supply.Thresholds.
type SupplyConfig struct {
	DefaultLeadTimeDays int     `yaml:"default_lead_time_days"`
	ReorderCushion      float64 `yaml:"reorder_cushion"`
	CriticalDays        float64 `yaml:"critical_days"`
	HighDays            float64 `yaml:"high_days"`
	MediumDays          float64 `yaml:"medium_days"`
}

// SafetyConfig points at an optional limits file merged over the built-in
// table.
type SafetyConfig struct {
	LimitsFile string `yaml:"limits_file"`
}

// LogConfig is handed to the logging package. Empty values keep the profile
// defaults.
type LogConfig struct {
	Level     string `yaml:"level"`
	Timestamp *bool  `yaml:"timestamp"`
	NoColor   *bool  `yaml:"no_color"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	th := supply.DefaultThresholds()
	return Config{
		Storage: storage.Config{
			Driver:     storage.DriverSQLite,
			SQLitePath: sqlite.DefaultPath,
			Blob:       blob.Config{Driver: blob.DriverFilesystem, FSRoot: "dosecore-blobs"},
		},
		Dosing: DosingConfig{
			MaxConcentrationMgPerMl: dosing.DefaultMaxConcentration,
			BufferPercent:           10,
		},
		Supply: SupplyConfig{
			DefaultLeadTimeDays: th.DefaultLeadTimeDays,
			ReorderCushion:      th.ReorderCushion,
			CriticalDays:        th.CriticalDays,
			HighDays:            th.HighDays,
			MediumDays:          th.MediumDays,
		},
	}
}

// Load reads path over the defaults, then applies the process environment.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults without consulting the
// environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(path string, out *Config) error {
	// #nosec G304 -- path comes from the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the DOSECORE_* variables reported by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var driver, blobDriver string
	set(EnvStorageDriver, &driver)
	if driver != "" {
		c.Storage.Driver = storage.Driver(strings.ToLower(driver))
	}
	set(EnvSQLitePath, &c.Storage.SQLitePath)
	set(EnvPostgresDSN, &c.Storage.PostgresDSN)
	set(EnvBlobDriver, &blobDriver)
	if blobDriver != "" {
		c.Storage.Blob.Driver = blob.Driver(strings.ToLower(blobDriver))
	}
	set(EnvBlobFSRoot, &c.Storage.Blob.FSRoot)
	set(EnvBlobPrefix, &c.Storage.BlobPrefix)
	set(EnvBlobS3Bucket, &c.Storage.Blob.S3.Bucket)
	set(EnvBlobS3Region, &c.Storage.Blob.S3.Region)
	set(EnvBlobS3Endpoint, &c.Storage.Blob.S3.Endpoint)
	if v, ok := lookup(EnvBlobS3PathStyle); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBlobS3PathStyle, err)
		}
		c.Storage.Blob.S3.PathStyle = b
	}
	set(EnvSafetyLimits, &c.Safety.LimitsFile)
	return nil
}

// Validate rejects values the engines cannot work with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "", storage.DriverMemory, storage.DriverSQLite, storage.DriverPostgres, storage.DriverBlob:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.Driver == storage.DriverBlob {
		switch c.Storage.Blob.Driver {
		case "", blob.DriverFilesystem, blob.DriverMemory:
		case blob.DriverS3:
			if strings.TrimSpace(c.Storage.Blob.S3.Bucket) == "" {
				errs = append(errs, errors.New("storage.blob.s3.bucket is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.blob.driver: unknown driver %q", c.Storage.Blob.Driver))
		}
	}
	if c.Dosing.MaxConcentrationMgPerMl < 0 {
		errs = append(errs, errors.New("dosing.max_concentration_mg_per_ml must not be negative"))
	}
	if c.Dosing.BufferPercent < 0 || c.Dosing.BufferPercent > 100 {
		errs = append(errs, errors.New("dosing.buffer_percent must be between 0 and 100"))
	}
	// Zero means unset to the planner.
	if c.Supply.DefaultLeadTimeDays <= 0 {
		errs = append(errs, errors.New("supply.default_lead_time_days must be positive"))
	}
	if !(c.Supply.ReorderCushion > 0) {
		errs = append(errs, errors.New("supply.reorder_cushion must be positive"))
	}
	s := c.Supply
	if s.CriticalDays > s.HighDays || s.HighDays > s.MediumDays {
		errs = append(errs, errors.New("supply urgency thresholds must satisfy critical <= high <= medium"))
	}
	return errors.Join(errs...)
}

// Thresholds converts the supply section.
func (c Config) Thresholds() supply.Thresholds {
	return supply.Thresholds{
		DefaultLeadTimeDays: c.Supply.DefaultLeadTimeDays,
		ReorderCushion:      c.Supply.ReorderCushion,
		CriticalDays:        c.Supply.CriticalDays,
		HighDays:            c.Supply.HighDays,
		MediumDays:          c.Supply.MediumDays,
	}
}

// Calculator builds the dosing calculator over the built-in device catalog.
func (c Config) Calculator() *dosing.Calculator {
	return dosing.New(dosing.Config{MaxConcentration: c.Dosing.MaxConcentrationMgPerMl})
}

// Limits returns the built-in safety table merged with the configured
// limits file, if any.
func (c Config) Limits() (safety.Limits, error) {
	limits := safety.DefaultLimits()
	if c.Safety.LimitsFile == "" {
		return limits, nil
	}
	extra, err := safety.LoadLimits(c.Safety.LimitsFile)
	if err != nil {
		return safety.Limits{}, err
	}
	return limits.Merge(extra), nil
}
