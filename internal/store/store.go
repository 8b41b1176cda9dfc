// Package store persists scene documents as one pretty-printed JSON file
// per document under a storage root.
//
// Reads go through an in-memory cache keyed by the file's modification time
// and size; a changed file is re-read on the next Load. Writes land in a
// temporary file in the same directory and are renamed over the target, so
// readers never observe a partially written document. Every document handed
// out or accepted is deep-copied at this boundary.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/duhman/excalidraw-mcp/internal/scene"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// FileExt is the extension of persisted documents.
	FileExt = ".json"
	// DefaultMaxBytes bounds the size of a persisted document.
	DefaultMaxBytes int64 = 25 << 20
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// Store defines document persistence. Abstracted for testability.
type Store interface {
	Load(ctx context.Context, id string) (scene.Document, error)
	Save(ctx context.Context, doc scene.Document) error
	Exists(ctx context.Context, id string) (bool, error)
	ListMetadata(ctx context.Context) ([]scene.Metadata, error)
}

// ValidateID reports whether id may name a document. Rejections wrap
// scene.ErrInvalidInput.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: document id %q must match %s", scene.ErrInvalidInput, id, idPattern)
	}
	return nil
}

type cacheEntry struct {
	modTime time.Time
	size    int64
	doc     scene.Document
}

// FileStore implements Store on the local filesystem.
type FileStore struct {
	root     string
	maxBytes int64
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	reads singleflight.Group
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(fs *FileStore) {
		if l != nil {
			fs.logger = l
		}
	}
}

// WithMaxBytes bounds the encoded size of a document. Non-positive values
// keep DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(fs *FileStore) {
		if n > 0 {
			fs.maxBytes = n
		}
	}
}

// NewFileStore creates a store rooted at root, creating the directory if
// needed.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: storage root is empty", scene.ErrInvalidInput)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving storage root: %v", scene.ErrIOFailure, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating storage root: %v", scene.ErrIOFailure, err)
	}

	fs := &FileStore{
		root:     abs,
		maxBytes: DefaultMaxBytes,
		logger:   zap.NewNop(),
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs, nil
}

// Root returns the absolute storage root.
func (fs *FileStore) Root() string {
	return fs.root
}

// Path maps a document id to its file, verifying the result stays inside
// the storage root.
func (fs *FileStore) Path(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	p, err := securejoin.SecureJoin(fs.root, id+FileExt)
	if err != nil {
		return "", fmt.Errorf("%w: document id %q: %v", scene.ErrInvalidInput, id, err)
	}
	return p, nil
}

// Load returns an independent copy of the persisted document.
func (fs *FileStore) Load(ctx context.Context, id string) (scene.Document, error) {
	if err := ctx.Err(); err != nil {
		return scene.Document{}, err
	}
	p, err := fs.Path(id)
	if err != nil {
		return scene.Document{}, err
	}

	info, err := os.Stat(p)
	if err != nil {
		return scene.Document{}, statError(id, err)
	}
	if doc, ok := fs.cached(id, info); ok {
		fs.logger.Debug("document cache hit", zap.String("id", id))
		return doc, nil
	}

	// Callers share a read only when they observed the same file version.
	key := fmt.Sprintf("%s@%d:%d", id, info.ModTime().UnixNano(), info.Size())
	v, err, _ := fs.reads.Do(key, func() (any, error) {
		return fs.read(id, p)
	})
	if err != nil {
		return scene.Document{}, err
	}
	return v.(scene.Document).Clone(), nil
}

// afterDecode is a package-level var to allow test injection.
var afterDecode func(id string)

func (fs *FileStore) read(id, p string) (scene.Document, error) {
	f, err := os.Open(p)
	if err != nil {
		return scene.Document{}, statError(id, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return scene.Document{}, fmt.Errorf("%w: stat %q: %v", scene.ErrIOFailure, id, err)
	}
	if info.Size() > fs.maxBytes {
		return scene.Document{}, fmt.Errorf("%w: document %q is %d bytes, limit is %d",
			scene.ErrInvalidInput, id, info.Size(), fs.maxBytes)
	}

	var doc scene.Document
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return scene.Document{}, fmt.Errorf("%w: parsing document %q: %v", scene.ErrIOFailure, id, err)
	}
	// The file name is authoritative for identity.
	doc.Metadata.ID = id
	if afterDecode != nil {
		afterDecode(id)
	}

	fs.mu.Lock()
	fs.cache[id] = cacheEntry{modTime: info.ModTime(), size: info.Size(), doc: doc}
	fs.mu.Unlock()

	fs.logger.Debug("document loaded from disk", zap.String("id", id), zap.Int64("bytes", info.Size()))
	return doc, nil
}

func (fs *FileStore) cached(id string, info os.FileInfo) (scene.Document, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	entry, ok := fs.cache[id]
	if !ok || !entry.modTime.Equal(info.ModTime()) || entry.size != info.Size() {
		return scene.Document{}, false
	}
	return entry.doc.Clone(), true
}

// Save persists doc atomically: the encoded document is written and synced
// to a temporary file in the storage root, then renamed onto the target.
func (fs *FileStore) Save(ctx context.Context, doc scene.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := doc.Metadata.ID
	p, err := fs.Path(id)
	if err != nil {
		return err
	}

	snapshot := doc.Clone()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding document %q: %v", scene.ErrInternal, id, err)
	}
	data = append(data, '\n')
	if int64(len(data)) > fs.maxBytes {
		return fmt.Errorf("%w: document %q encodes to %d bytes, limit is %d",
			scene.ErrInvalidInput, id, len(data), fs.maxBytes)
	}

	if err := writeAtomic(fs.root, p, data); err != nil {
		return fmt.Errorf("%w: saving document %q: %v", scene.ErrIOFailure, id, err)
	}

	// Cache the decoded bytes so a cache hit equals a fresh read.
	var persisted scene.Document
	info, err := os.Stat(p)
	if err == nil {
		err = json.Unmarshal(data, &persisted)
	}
	if err != nil {
		fs.forget(id)
		return fmt.Errorf("%w: refreshing cache for %q: %v", scene.ErrIOFailure, id, err)
	}
	fs.mu.Lock()
	fs.cache[id] = cacheEntry{modTime: info.ModTime(), size: info.Size(), doc: persisted}
	fs.mu.Unlock()

	fs.logger.Debug("document saved",
		zap.String("id", id),
		zap.Int("bytes", len(data)),
		zap.String("revision", snapshot.Metadata.RevisionHash),
	)
	return nil
}

func writeAtomic(dir, target string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

// Exists reports whether a document is persisted under id.
func (fs *FileStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := fs.Path(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: stat %q: %v", scene.ErrIOFailure, id, err)
	}
}

// ListMetadata returns the metadata of every readable document, newest
// update first, ties broken by id. Unreadable files are skipped.
func (fs *FileStore) ListMetadata(ctx context.Context) ([]scene.Metadata, error) {
	entries, err := os.ReadDir(fs.root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading storage root: %v", scene.ErrIOFailure, err)
	}

	out := make([]scene.Metadata, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, FileExt) {
			continue
		}
		id := strings.TrimSuffix(name, FileExt)
		if ValidateID(id) != nil {
			continue
		}
		doc, err := fs.Load(ctx, id)
		if err != nil {
			fs.logger.Warn("skipping unreadable document", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, doc.Metadata)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Invalidate drops the cache entry for id.
func (fs *FileStore) Invalidate(id string) {
	fs.forget(id)
}

func (fs *FileStore) forget(id string) {
	fs.mu.Lock()
	delete(fs.cache, id)
	fs.mu.Unlock()
}

func statError(id string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: document %q", scene.ErrNotFound, id)
	}
	return fmt.Errorf("%w: stat %q: %v", scene.ErrIOFailure, id, err)
}
