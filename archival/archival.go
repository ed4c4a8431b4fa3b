// Package archival implements the Archival Engine (spec.md §4.7):
// compress-and-move of eligible raw response records to a cold-storage
// sink, with a dry-run mode and a reconciliation list for writes whose
// source mutation failed after a successful archive write.
package archival

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/trailcast/orchestrator/ioutils"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/vfs"
)

var logger = l3.Get()

// ArchivalCandidate is one record past its provider's archival age that
// has not yet been archived.
type ArchivalCandidate struct {
	ID       string
	Provider string
	Payload  []byte
}

// Store is the persistence seam the Archival Engine reads candidates from
// and mutates once an archive write succeeds.
type Store interface {
	// FindArchivalCandidates returns, per provider (empty string means all
	// providers), records past their archival age not yet archived.
	FindArchivalCandidates(ctx context.Context, provider string) ([]ArchivalCandidate, error)
	// MarkArchived records that id's payload now lives in cold storage at
	// archivePath, optionally deleting the hot payload (deletePayload).
	MarkArchived(ctx context.Context, id, archivePath string, deletePayload bool) error
}

// Summary is the result of one Archive run.
type Summary struct {
	Candidates          int
	Archived            int
	BytesOriginal        int64
	BytesCompressed      int64
	AverageCompression   float64 // 1 - compressed/original
	Reconciliation       []string // ids whose source mutation failed post-write
	Errors               []error
	DryRun               bool
}

// Engine runs the archival process.
type Engine interface {
	Archive(ctx context.Context, provider string, dryRun bool) (Summary, error)
}

type engine struct {
	store         Store
	fs            vfs.VFileSystem
	baseURL       *url.URL
	checksum      ioutils.ChkSumCalc
	deleteOnWrite bool

	mu              sync.Mutex
	reconciliation  []string
}

// New constructs an Engine writing compressed archives under baseURL using
// fs (normally vfs.OsFs via a BaseVFS wrapper, configured for a local
// filesystem or an object-store-backed VFileSystem). deleteOnWrite
// controls whether the hot payload is deleted after a successful archive
// write, per spec.md §4.7's "optionally per policy".
func New(store Store, fs vfs.VFileSystem, baseURL *url.URL, deleteOnWrite bool) Engine {
	return &engine{
		store:         store,
		fs:            fs,
		baseURL:       baseURL,
		checksum:      ioutils.NewChkSumCalc("sha256"),
		deleteOnWrite: deleteOnWrite,
	}
}

func (e *engine) Archive(ctx context.Context, provider string, dryRun bool) (Summary, error) {
	summary := Summary{DryRun: dryRun}

	candidates, err := e.store.FindArchivalCandidates(ctx, provider)
	if err != nil {
		return summary, err
	}
	summary.Candidates = len(candidates)
	if dryRun {
		for _, c := range candidates {
			original := int64(len(c.Payload))
			compressed := int64(len(mustCompress(c.Payload)))
			summary.BytesOriginal += original
			summary.BytesCompressed += compressed
		}
		summary.AverageCompression = compressionRatio(summary.BytesOriginal, summary.BytesCompressed)
		return summary, nil
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			summary.Errors = append(summary.Errors, err)
			break
		}
		if err := e.archiveOne(ctx, c, &summary); err != nil {
			logger.ErrorF("archival: candidate %s failed: %v", c.ID, err)
			summary.Errors = append(summary.Errors, fmt.Errorf("%s: %w", c.ID, err))
		}
	}
	summary.AverageCompression = compressionRatio(summary.BytesOriginal, summary.BytesCompressed)
	return summary, nil
}

// archiveOne serializes, compresses, and writes one candidate, then marks
// the source row archived. If the write succeeds but the source mutation
// fails, the id is appended to the reconciliation list rather than
// retried inline — an operator-run verifier garbage-collects orphan
// archives, per spec.md §4.7 "Atomicity".
func (e *engine) archiveOne(ctx context.Context, c ArchivalCandidate, summary *Summary) error {
	compressed := mustCompress(c.Payload)
	archivePath := e.archivePathFor(c)

	sum, err := e.checksum.CalculateFor(bytes.NewReader(c.Payload))
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}

	u, err := e.baseURL.Parse(archivePath)
	if err != nil {
		return fmt.Errorf("archive path: %w", err)
	}
	file, err := e.fs.Create(u)
	if err != nil {
		return fmt.Errorf("create archive object: %w", err)
	}
	if _, err := file.Write(compressed); err != nil {
		file.Close()
		return fmt.Errorf("write archive object: %w", err)
	}
	if err := file.AddProperty("source-checksum", sum); err != nil {
		logger.WarnF("archival: could not record checksum property for %s: %v", c.ID, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close archive object: %w", err)
	}

	summary.BytesOriginal += int64(len(c.Payload))
	summary.BytesCompressed += int64(len(compressed))

	if err := e.store.MarkArchived(ctx, c.ID, archivePath, e.deleteOnWrite); err != nil {
		e.mu.Lock()
		e.reconciliation = append(e.reconciliation, c.ID)
		e.mu.Unlock()
		summary.Reconciliation = append(summary.Reconciliation, c.ID)
		return fmt.Errorf("mark archived (orphan archive written at %s): %w", archivePath, err)
	}
	summary.Archived++
	return nil
}

func (e *engine) archivePathFor(c ArchivalCandidate) string {
	return path.Join(c.Provider, time.Now().UTC().Format("2006/01/02"), c.ID+".json.gz")
}

func mustCompress(payload []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(payload)
	_ = w.Close()
	return buf.Bytes()
}

func compressionRatio(original, compressed int64) float64 {
	if original == 0 {
		return 0
	}
	return 1 - float64(compressed)/float64(original)
}

// Reconciliation returns the ids whose archive write succeeded but whose
// source mutation failed, for the operator-run verifier to inspect.
func Reconciliation(e Engine) []string {
	en, ok := e.(*engine)
	if !ok {
		return nil
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	out := make([]string, len(en.reconciliation))
	copy(out, en.reconciliation)
	return out
}
