// Package attachments stores submission files locally and uploads them to
// the registry as file resources.
package attachments

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/logging"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

const DefaultWorkers = 4

// BlobStore is the local stable storage for attachment copies.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Uploader sends a file to the registry and returns the file resource id.
type Uploader interface {
	UploadFileResource(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// Phase names the step at which an attachment failed.
type Phase string

const (
	PhaseStore  Phase = "store"
	PhaseRead   Phase = "read"
	PhaseUpload Phase = "upload"
)

// Error is a per-file failure. It never aborts the submission.
type Error struct {
	Ref   string
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("attachment %s: %s: %v", e.Ref, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolution is the outcome of resolving every attachment of a submission.
type Resolution struct {
	// Remote maps references to registry file resource ids.
	Remote map[string]string
	// Stored maps references to local storage keys, including files whose
	// upload failed, so they can be replayed.
	Stored map[string]string
	Failed map[string]*Error
	// Unreplayable lists references whose bytes have no local copy. A retry
	// of the submission will drop them.
	Unreplayable []string
}

// Resolver stores and uploads attachments on a bounded pool of workers.
type Resolver struct {
	store   BlobStore
	workers int
	logger  logging.Logger
	newKey  func(filename string, now time.Time) string
	now     func() time.Time
}

// NewResolver builds a Resolver. newKey mints the storage key of a new copy.
func NewResolver(store BlobStore, workers int, newKey func(string, time.Time) string, logger logging.Logger) *Resolver {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Resolver{
		store:   store,
		workers: workers,
		logger:  logger.With("module", "attachments"),
		newKey:  newKey,
		now:     time.Now,
	}
}

// Resolve handles every attachment and returns once all of them have either
// been uploaded or failed. Attachments carrying bytes are first written to
// local storage under a fresh key; attachments carrying only a storage key
// (a replayed submission) are read back from it.
func (r *Resolver) Resolve(ctx context.Context, files map[string]models.Attachment, up Uploader) *Resolution {
	res := &Resolution{
		Remote: make(map[string]string, len(files)),
		Stored: make(map[string]string, len(files)),
		Failed: make(map[string]*Error),
	}
	if len(files) == 0 {
		return res
	}

	refs := make([]string, 0, len(files))
	for ref := range files {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.workers)

	for _, ref := range refs {
		att := files[ref]
		g.Go(func() error {
			key, id, err := r.resolveOne(ctx, ref, att, up)

			mu.Lock()
			defer mu.Unlock()
			if key != "" {
				res.Stored[ref] = key
			} else if len(att.Data) > 0 {
				res.Unreplayable = append(res.Unreplayable, ref)
			}
			if err != nil {
				res.Failed[ref] = err
				r.logger.Warn(ctx, "attachment not resolved",
					"ref", ref, "phase", string(err.Phase), "filename", att.Filename, "error", err.Err.Error())
				return nil
			}
			res.Remote[ref] = id
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(res.Unreplayable)

	r.logger.Info(ctx, "attachments resolved", "total", len(files), "uploaded", len(res.Remote), "failed", len(res.Failed))
	return res
}

func (r *Resolver) resolveOne(ctx context.Context, ref string, att models.Attachment, up Uploader) (string, string, *Error) {
	key := att.StorageKey
	data := att.Data

	switch {
	case len(data) > 0:
		key = r.newKey(att.Filename, r.now())
		if err := r.store.Put(ctx, key, data, att.ContentType); err != nil {
			// A failed local copy does not stop the upload, but a retry
			// will have nothing to resend.
			r.logger.Error(ctx, "attachment not stored locally; not replayable",
				"ref", ref, "key", key, "filename", att.Filename, "error", err.Error())
			key = ""
		}
	case key != "":
		b, err := r.store.Get(ctx, key)
		if err != nil {
			return key, "", &Error{Ref: ref, Phase: PhaseRead, Err: err}
		}
		data = b
	default:
		return "", "", &Error{Ref: ref, Phase: PhaseStore, Err: fmt.Errorf("attachment has no content")}
	}

	id, err := up.UploadFileResource(ctx, att.Filename, att.ContentType, data)
	if err != nil {
		return key, "", &Error{Ref: ref, Phase: PhaseUpload, Err: err}
	}
	if id == "" {
		return key, "", &Error{Ref: ref, Phase: PhaseUpload, Err: fmt.Errorf("empty file resource id")}
	}
	return key, id, nil
}
