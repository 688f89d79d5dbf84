// Package assets implements the catalog's asset store: a flat namespace of
// product images addressed by key, with write-if-absent uploads.
//
// Two backends are provided:
//   - fs: a local directory (any afero.Fs), served over HTTP by the dashboard.
//   - azure: an Azure Blob Storage container.
//
// Local asset files, the upload sources, are read through an afero.Fs as well
// so tests can run entirely in memory.
package assets

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/steveyegge/catalogsync/internal/catalog/gateway"
)

// Backend names.
const (
	BackendFS    = "fs"
	BackendAzure = "azure"
)

// Options selects and configures an asset store backend.
type Options struct {
	// Backend is "fs" or "azure".
	Backend string

	// Dir is the root directory of the fs backend.
	Dir string

	// BaseURL prefixes asset URLs for the fs backend (default "/assets").
	BaseURL string

	// Container is the Azure Blob container name.
	Container string

	// ConnectionString is the Azure Storage connection string.
	ConnectionString string

	// Timeout bounds every individual Exists or Upload call (0 = no bound).
	Timeout time.Duration

	// Source is the filesystem local asset paths are read from
	// (default: the OS filesystem).
	Source afero.Fs
}

// Store is an asset store that holds resources until closed.
type Store interface {
	gateway.AssetStore
	io.Closer
}

// New opens the backend selected by opts.Backend.
func New(ctx context.Context, opts Options) (Store, error) {
	if opts.Source == nil {
		opts.Source = afero.NewOsFs()
	}

	switch strings.ToLower(opts.Backend) {
	case "", BackendFS:
		if opts.Dir == "" {
			return nil, fmt.Errorf("assets: fs backend requires a directory")
		}
		return NewFSStore(opts.Dir, opts)

	case BackendAzure:
		store, err := NewAzureStore(opts.ConnectionString, opts.Container, opts)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureContainer(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("assets: unknown backend %q (want %q or %q)", opts.Backend, BackendFS, BackendAzure)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// ctxReader aborts a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
