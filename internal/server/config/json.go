package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/flagx"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/timex"
)

// JSONConfig is the on-disk form of Config. Durations accept either a
// string such as "30s" or integer nanoseconds. Absent fields keep the
// value already in Config.
type JSONConfig struct {
	HTTPAddr         string         `json:"http_addr"`
	DatabaseDSN      string         `json:"database_dsn"`
	AttachmentDriver string         `json:"attachment_driver"`
	AttachmentDir    string         `json:"attachment_dir"`
	S3User           string         `json:"s3_user"`
	S3Password       string         `json:"s3_password"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3Endpoint       string         `json:"s3_endpoint"`
	RegistryTimeout  timex.Duration `json:"registry_timeout"`
	UploadWorkers    int            `json:"upload_workers"`
	ShutdownTimeout  timex.Duration `json:"shutdown_timeout"`
	LogLevel         string         `json:"log_level"`
}

// parseJSON overlays the file named by -c/-config onto config. Without the
// flag nothing is loaded.
func parseJSON(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	c := &JSONConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.AttachmentDriver, c.AttachmentDriver)
	setString(&config.AttachmentDir, c.AttachmentDir)
	setString(&config.S3User, c.S3User)
	setString(&config.S3Password, c.S3Password)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3Endpoint, c.S3Endpoint)
	setString(&config.LogLevel, c.LogLevel)
	if c.RegistryTimeout.Duration > 0 {
		config.RegistryTimeout = c.RegistryTimeout.Duration
	}
	if c.ShutdownTimeout.Duration > 0 {
		config.ShutdownTimeout = c.ShutdownTimeout.Duration
	}
	if c.UploadWorkers > 0 {
		config.UploadWorkers = c.UploadWorkers
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
