package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by single-record reads when no record matches.
	ErrNotFound = errors.New("not found")

	// ErrAssetSourceMissing is returned by Upload when the local file to
	// upload does not exist.
	ErrAssetSourceMissing = errors.New("asset source file missing")
)

// StoreUnavailableError reports a failed record store call. It aborts the
// remaining steps of a reconciliation run.
type StoreUnavailableError struct {
	// Op names the failed call, e.g. "fetch ids", "upsert 42".
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("record store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// AssetUploadError reports a failed existence check or upload for one asset
// key. It is recorded per key and never aborts a run.
type AssetUploadError struct {
	Key string
	Err error
}

func (e *AssetUploadError) Error() string {
	return fmt.Sprintf("asset %s: upload failed: %v", e.Key, e.Err)
}

func (e *AssetUploadError) Unwrap() error {
	return e.Err
}

// IsStoreUnavailable reports whether err is or wraps a *StoreUnavailableError.
func IsStoreUnavailable(err error) bool {
	var serr *StoreUnavailableError
	return errors.As(err, &serr)
}
