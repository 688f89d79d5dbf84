package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/steveyegge/catalogsync/internal/catalog/gateway"
	"github.com/steveyegge/catalogsync/internal/catalog/schema"
)

var _ gateway.AssetStore = (*FSStore)(nil)

var errKeyIsDirectory = errors.New("a directory occupies the key")

// FSStore keeps assets as files under a root directory.
type FSStore struct {
	fs      afero.Fs
	source  afero.Fs
	baseURL string
	timeout time.Duration
}

// NewFSStore creates a store rooted at dir on the OS filesystem.
// The directory is created if missing.
func NewFSStore(dir string, opts Options) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory %s: %w", dir, err)
	}
	return NewFSStoreOn(afero.NewBasePathFs(afero.NewOsFs(), dir), opts), nil
}

// NewFSStoreOn creates a store on an arbitrary afero filesystem.
func NewFSStoreOn(fs afero.Fs, opts Options) *FSStore {
	source := opts.Source
	if source == nil {
		source = afero.NewOsFs()
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "/assets"
	}
	return &FSStore{
		fs:      fs,
		source:  source,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: opts.Timeout,
	}
}

// Exists reports whether a file is stored under key.
func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := schema.ValidateAssetKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := s.fs.Stat(s.name(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat asset %s: %w", key, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("asset %s: %w", key, errKeyIsDirectory)
	}
	return true, nil
}

// Upload copies localPath to key unless a file already exists there.
// A partially written file is removed on failure.
func (s *FSStore) Upload(ctx context.Context, key, localPath string) error {
	if err := schema.ValidateAssetKey(key); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	src, err := s.source.Open(localPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", localPath, gateway.ErrAssetSourceMissing)
	}
	if err != nil {
		return fmt.Errorf("failed to open asset source %s: %w", localPath, err)
	}
	defer src.Close()

	name := s.name(key)
	if err := s.fs.MkdirAll(path.Dir(name), 0755); err != nil {
		return fmt.Errorf("failed to create asset directory for %s: %w", key, err)
	}

	dst, err := s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		if info, serr := s.fs.Stat(name); serr == nil && info.IsDir() {
			return fmt.Errorf("asset %s: %w", key, errKeyIsDirectory)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create asset %s: %w", key, err)
	}

	if _, err := io.Copy(dst, ctxReader{ctx: ctx, r: src}); err != nil {
		_ = dst.Close()
		_ = s.fs.Remove(name)
		return fmt.Errorf("failed to write asset %s: %w", key, err)
	}
	if err := dst.Close(); err != nil {
		_ = s.fs.Remove(name)
		return fmt.Errorf("failed to close asset %s: %w", key, err)
	}
	return nil
}

// URL returns the HTTP path under which the dashboard serves key.
func (s *FSStore) URL(key string) string {
	segments := strings.Split(filepath.ToSlash(key), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/")
}

// HTTPFileSystem exposes the stored assets for http.FileServer.
func (s *FSStore) HTTPFileSystem() http.FileSystem {
	return afero.NewHttpFs(s.fs).Dir("/")
}

// Close is a no-op; it satisfies Store.
func (s *FSStore) Close() error {
	return nil
}

func (s *FSStore) name(key string) string {
	return "/" + path.Clean(filepath.ToSlash(key))
}
