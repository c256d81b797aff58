package config

import (
	"flag"
	"io"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     HTTP bind address (e.g., ":8080")
//	-d string     PostgreSQL DSN
//	-s string     attachment storage driver (fs, s3, memory)
//	-f string     attachment directory for the fs driver
//	-u string     S3 user
//	-p string     S3 password
//	-b string     S3 bucket name
//	-g string     S3 region
//	-e string     S3 endpoint (e.g., "http://127.0.0.1:9000/")
//	-t duration   registry request timeout (e.g., "30s")
//	-w int        parallel attachment uploads
//	-l string     log level
//
// Args are filtered with flagx.FilterArgs first, so flags owned by other
// components (such as -c) do not cause parse errors.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-d", "-s", "-f", "-u", "-p", "-b", "-g", "-e", "-t", "-w", "-l"})

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.AttachmentDriver, "s", config.AttachmentDriver, "attachment storage driver")
	fs.StringVar(&config.AttachmentDir, "f", config.AttachmentDir, "attachment directory")
	fs.StringVar(&config.S3User, "u", config.S3User, "S3 user")
	fs.StringVar(&config.S3Password, "p", config.S3Password, "S3 password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3Endpoint, "e", config.S3Endpoint, "S3 endpoint")
	fs.DurationVar(&config.RegistryTimeout, "t", config.RegistryTimeout, "registry request timeout")
	fs.IntVar(&config.UploadWorkers, "w", config.UploadWorkers, "parallel attachment uploads")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	return fs.Parse(args)
}
