// Package storage keeps local stable copies of submission attachments so a
// failed submission can be replayed without the original upload.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Driver identifies a storage backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

var (
	ErrExists     = errors.New("storage: key already exists")
	ErrNotExist   = errors.New("storage: key does not exist")
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Store is a write-once blob store.
type Store interface {
	// Put stores data under key. It fails with ErrExists if key is taken.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns the data stored under key, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)
	Driver() Driver
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewKey returns a fresh key for an attachment. Every call yields a new key,
// so a retry never overwrites an earlier copy.
func NewKey(filename string, now time.Time) string {
	return fmt.Sprintf("attachments/%d/%02d/%02d/%s-%s",
		now.Year(), now.Month(), now.Day(), uuid.New(), sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return "file"
	}
	const limit = 100
	if len(name) > limit {
		name = name[len(name)-limit:]
	}
	return name
}

// cleanKey rejects empty, absolute and escaping keys.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return key, nil
}
