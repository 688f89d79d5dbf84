package assets

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/spf13/afero"

	"github.com/steveyegge/catalogsync/internal/catalog/gateway"
	"github.com/steveyegge/catalogsync/internal/catalog/schema"
)

var _ gateway.AssetStore = (*AzureStore)(nil)

// DefaultContainer is the container product images are kept in.
const DefaultContainer = "product-images"

// AzureStore keeps assets as block blobs in one Azure Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
	source    afero.Fs
	timeout   time.Duration
}

// NewAzureStore creates a store from a storage account connection string.
func NewAzureStore(connectionString, container string, opts Options) (*AzureStore, error) {
	if strings.TrimSpace(connectionString) == "" {
		return nil, fmt.Errorf("assets: azure backend requires a connection string")
	}
	if container == "" {
		container = DefaultContainer
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	source := opts.Source
	if source == nil {
		source = afero.NewOsFs()
	}

	return &AzureStore{
		client:    client,
		container: container,
		source:    source,
		timeout:   opts.Timeout,
	}, nil
}

// EnsureContainer creates the container if it doesn't exist.
func (s *AzureStore) EnsureContainer(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to create container %s: %w", s.container, err)
	}
	return nil
}

// Exists reports whether a blob is stored under key.
func (s *AzureStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := schema.ValidateAssetKey(key); err != nil {
		return false, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.blobClient(key).GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get properties of blob %s: %w", key, err)
	}
	return true, nil
}

// Upload streams localPath to key with an If-None-Match: * condition, so an
// existing blob is never overwritten.
func (s *AzureStore) Upload(ctx context.Context, key, localPath string) error {
	if err := schema.ValidateAssetKey(key); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	f, err := s.source.Open(localPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", localPath, gateway.ErrAssetSourceMissing)
	}
	if err != nil {
		return fmt.Errorf("failed to open asset source %s: %w", localPath, err)
	}
	defer f.Close()

	opts := &azblob.UploadStreamOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		},
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(ct)}
	}

	_, err = s.client.UploadStream(ctx, s.container, key, f, opts)
	if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", key, err)
	}
	return nil
}

// URL returns the blob's public endpoint.
func (s *AzureStore) URL(key string) string {
	return s.blobClient(key).URL()
}

// Close is a no-op; the SDK client holds no resources needing release.
func (s *AzureStore) Close() error {
	return nil
}

func (s *AzureStore) blobClient(key string) *blob.Client {
	return s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
}
