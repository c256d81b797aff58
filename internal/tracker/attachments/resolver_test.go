package attachments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/logging"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/server/storage"
	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

type fakeUploader struct {
	mu       sync.Mutex
	fail     map[string]bool // by filename
	uploads  map[string][]byte
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeUploader) UploadFileResource(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[filename] {
		return "", errors.New("registry unavailable")
	}
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
	}
	f.uploads[filename] = data
	return "FR_" + filename, nil
}

type failingStore struct{ storage.Store }

func (failingStore) Put(context.Context, string, []byte, string) error { return errors.New("disk full") }

func counterKey() func(string, time.Time) string {
	var n atomic.Int32
	return func(filename string, _ time.Time) string {
		return fmt.Sprintf("attachments/%d-%s", n.Add(1), filename)
	}
}

func TestResolve_OneUploadFails(t *testing.T) {
	store := storage.NewMemory()
	up := &fakeUploader{fail: map[string]bool{"b.png": true}}
	r := NewResolver(store, 2, counterKey(), logging.Discard())

	files := map[string]models.Attachment{
		"tei:photo":       {Filename: "a.png", Data: []byte("A")},
		"tei:signature":   {Filename: "b.png", Data: []byte("B")},
		"stage:S1:scan:0": {Filename: "c.png", Data: []byte("C")},
	}
	res := r.Resolve(context.Background(), files, up)

	assert.Equal(t, map[string]string{"tei:photo": "FR_a.png", "stage:S1:scan:0": "FR_c.png"}, res.Remote)
	require.Contains(t, res.Failed, "tei:signature")
	assert.Equal(t, PhaseUpload, res.Failed["tei:signature"].Phase)
	assert.Len(t, res.Stored, 3, "every file keeps a local copy, including the failed one")
	assert.Equal(t, 3, store.Len())
	assert.Empty(t, res.Unreplayable)
}

func TestResolve_ReplaysFromStorageKey(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.Put(context.Background(), "attachments/old-a.png", []byte("OLD"), "image/png"))
	up := &fakeUploader{}
	r := NewResolver(store, 1, counterKey(), logging.Discard())

	res := r.Resolve(context.Background(), map[string]models.Attachment{
		"tei:photo":   {Filename: "a.png", StorageKey: "attachments/old-a.png"},
		"tei:missing": {Filename: "m.png", StorageKey: "attachments/gone.png"},
	}, up)

	assert.Equal(t, "FR_a.png", res.Remote["tei:photo"])
	assert.Equal(t, "OLD", string(up.uploads["a.png"]))
	assert.Equal(t, "attachments/old-a.png", res.Stored["tei:photo"])

	require.Contains(t, res.Failed, "tei:missing")
	assert.Equal(t, PhaseRead, res.Failed["tei:missing"].Phase)
	assert.ErrorIs(t, res.Failed["tei:missing"], storage.ErrNotExist)
	assert.Equal(t, 1, store.Len(), "replay does not write new copies")
}

func TestResolve_LocalStoreFailureStillUploads(t *testing.T) {
	up := &fakeUploader{}
	r := NewResolver(failingStore{}, 1, counterKey(), logging.Discard())

	res := r.Resolve(context.Background(), map[string]models.Attachment{
		"tei:photo": {Filename: "a.png", Data: []byte("A")},
	}, up)

	assert.Equal(t, "FR_a.png", res.Remote["tei:photo"])
	assert.Empty(t, res.Stored)
	assert.Equal(t, []string{"tei:photo"}, res.Unreplayable)
}

func TestResolve_NoContent(t *testing.T) {
	r := NewResolver(storage.NewMemory(), 1, counterKey(), logging.Discard())
	res := r.Resolve(context.Background(), map[string]models.Attachment{"tei:x": {Filename: "x"}}, &fakeUploader{})

	require.Contains(t, res.Failed, "tei:x")
	assert.Empty(t, res.Remote)
}

func TestResolve_BoundedConcurrency(t *testing.T) {
	up := &fakeUploader{delay: 20 * time.Millisecond}
	r := NewResolver(storage.NewMemory(), 3, counterKey(), logging.Discard())

	files := map[string]models.Attachment{}
	for i := 0; i < 12; i++ {
		files[fmt.Sprintf("tei:a%d", i)] = models.Attachment{Filename: fmt.Sprintf("f%d", i), Data: []byte("x")}
	}
	res := r.Resolve(context.Background(), files, up)

	assert.Len(t, res.Remote, 12, "Resolve waits for every upload")
	assert.LessOrEqual(t, up.peak.Load(), int32(3))
	assert.Greater(t, up.peak.Load(), int32(1), "uploads run in parallel")
}

func TestResolve_Empty(t *testing.T) {
	r := NewResolver(storage.NewMemory(), 0, counterKey(), logging.Discard())
	res := r.Resolve(context.Background(), nil, &fakeUploader{})
	assert.Empty(t, res.Remote)
	assert.Equal(t, DefaultWorkers, r.workers)
}
