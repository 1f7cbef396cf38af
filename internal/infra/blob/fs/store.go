// Package fs stores blobs below a local directory. Each blob is a plain file
// with a JSON sidecar holding its content type, metadata and digest.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"slate/internal/blob/core"
)

const sidecarSuffix = ".meta.json"

var _ core.Store = (*Store)(nil)

// Store implements core.Store on the local filesystem.
type Store struct {
	root string
}

// New returns a store rooted at root, creating the directory when missing.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("fs blob store: root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the directory blobs are written to.
func (s *Store) Root() string { return s.root }

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	Written     time.Time         `json:"written"`
}

func (m sidecar) info(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.ETag,
		Metadata:     core.CloneMetadata(m.Metadata),
		LastModified: m.Written,
	}
}

func (s *Store) paths(key string) (string, string, string, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return "", "", "", err
	}
	if strings.HasSuffix(clean, sidecarSuffix) {
		return "", "", "", fmt.Errorf("%w: %q uses the reserved %s suffix", core.ErrInvalidKey, key, sidecarSuffix)
	}
	data := filepath.Join(s.root, filepath.FromSlash(clean))
	return clean, data, data + sidecarSuffix, nil
}

// Put writes r to a temporary file and renames it into place once its digest
// is known. The sidecar is written last, so a blob without one is invisible.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	clean, data, meta, err := s.paths(key)
	if err != nil {
		return core.Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	if _, err := os.Stat(meta); err == nil {
		return core.Info{}, fmt.Errorf("%w: %s", core.ErrExists, clean)
	}
	dir := filepath.Dir(data)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return core.Info{}, fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return core.Info{}, fmt.Errorf("create temp blob: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	digest := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, digest), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("write blob %s: %w", clean, err)
	}
	if err := os.Rename(tmp.Name(), data); err != nil {
		return core.Info{}, fmt.Errorf("publish blob %s: %w", clean, err)
	}
	m := sidecar{
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		ETag:        hex.EncodeToString(digest.Sum(nil)),
		Size:        size,
		Written:     time.Now().UTC(),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return core.Info{}, err
	}
	if err := os.WriteFile(meta, raw, 0o600); err != nil {
		return core.Info{}, fmt.Errorf("write sidecar for %s: %w", clean, err)
	}
	return m.info(clean), nil
}

// Get opens the blob for reading. The caller closes the reader.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	clean, data, meta, err := s.paths(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	m, err := readSidecar(clean, meta)
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := os.Open(data) // #nosec G304 -- path is confined to the store root by CleanKey
	if err != nil {
		return core.Info{}, nil, notFound(clean, err)
	}
	return m.info(clean), f, nil
}

// Head returns the blob's description without opening it.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	clean, _, meta, err := s.paths(key)
	if err != nil {
		return core.Info{}, err
	}
	m, err := readSidecar(clean, meta)
	if err != nil {
		return core.Info{}, err
	}
	return m.info(clean), nil
}

// Delete removes the sidecar first so a half deleted blob is never listed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	clean, data, meta, err := s.paths(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(meta); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", clean, err)
	}
	if err := os.Remove(data); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return true, fmt.Errorf("delete %s: %w", clean, err)
	}
	return true, nil
}

// List walks the root and reports every blob with a sidecar.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var out []core.Info
	err := filepath.WalkDir(s.root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, sidecarSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, sidecarSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		m, err := readSidecar(key, p)
		if err != nil {
			return err
		}
		out = append(out, m.info(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func readSidecar(key, p string) (sidecar, error) {
	raw, err := os.ReadFile(p) // #nosec G304 -- path is confined to the store root by CleanKey
	if err != nil {
		return sidecar{}, notFound(key, err)
	}
	var m sidecar
	if err := json.Unmarshal(raw, &m); err != nil {
		return sidecar{}, fmt.Errorf("decode sidecar for %s: %w", key, err)
	}
	return m, nil
}

func notFound(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	return fmt.Errorf("read %s: %w", key, err)
}
