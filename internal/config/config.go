package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pipeline binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ServerConfig holds HTTP server configuration for cmd/server.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with environment override.
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings. When URL is empty
// the pipeline runs against CSV tables only.
type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// RedisConfig holds the optional Redis connection used for the run lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// PipelineConfig holds the extraction and contact-inference settings.
type PipelineConfig struct {
	// LoggerDataDir contains one subdirectory per logger with its raw
	// *-DATA-<id>.txt dumps.
	LoggerDataDir string `yaml:"logger_data_dir"`
	// TagFile is the animal register CSV (animal, species, sex, Tag1..Tag4).
	TagFile string `yaml:"tag_file"`
	// ForeignTagFile lists known tags that are not part of the project.
	ForeignTagFile string `yaml:"foreign_tag_file"`
	// MovementFile is the logger reshuffle history CSV.
	MovementFile string `yaml:"movement_file"`
	// MaxContactMinutes is the default contact-merge threshold; overridable
	// per run on the command line.
	MaxContactMinutes float64 `yaml:"max_contact_minutes"`
	// Workers bounds the per-logger parallel fan-out in the contact builder.
	// 1 disables parallelism.
	Workers int `yaml:"workers"`
	// StrictMoves rejects movement histories containing duplicate
	// effective-date records for one logger instead of warning.
	StrictMoves bool `yaml:"strict_moves"`
}

// MaxContactTime returns the configured threshold as a duration.
func (c PipelineConfig) MaxContactTime() time.Duration {
	return time.Duration(c.MaxContactMinutes * float64(time.Minute))
}

// StorageConfig holds the output table locations.
type StorageConfig struct {
	// LocalPath is the directory holding Triggers.csv and Contacts.csv.
	LocalPath string `yaml:"local_path"`
	// S3Bucket, when set, mirrors written output tables to S3.
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // empty uses the default credential chain
}

// GetAWSProfile returns the AWS profile, with environment variable override.
// Empty means the default credential chain.
func (c StorageConfig) GetAWSProfile() string {
	if p := os.Getenv("AWS_PROFILE_OVERRIDE"); p != "" {
		return p
	}
	return c.AWSProfile
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Pipeline.MaxContactMinutes == 0 {
		cfg.Pipeline.MaxContactMinutes = 5
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 1
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./parsed-data"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "eu-west-2"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so credentials can live in .env on field laptops and in real env vars on
// the analysis host.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
		cfg.Database.Enabled = true
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if dir := os.Getenv("LOGGER_DATA_DIR"); dir != "" {
		cfg.Pipeline.LoggerDataDir = dir
	}
	if v := os.Getenv("MAX_CONTACT_MINUTES"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pipeline.MaxContactMinutes = f
		}
	}
	if bucket := os.Getenv("OUTPUT_S3_BUCKET"); bucket != "" {
		cfg.Storage.S3Bucket = bucket
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Storage.AWSRegion = region
	}

	return cfg, nil
}
