package schema

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Product is a single catalog record.
//
// ID is the join key between the feed and the stored catalog. ImagePath is
// both the asset store key and the asset's location relative to the asset root.
type Product struct {
	ID        int64  `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Brand     string `json:"brand" yaml:"brand"`
	ImagePath string `json:"image_path" yaml:"image_path"`
}

// Validate checks that every field holds a usable value.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(p.Brand) == "" {
		return fmt.Errorf("brand is required")
	}
	return ValidateAssetKey(p.ImagePath)
}

// Equal reports whether p and other carry the same field values.
func (p *Product) Equal(other *Product) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.ID == other.ID &&
		p.Name == other.Name &&
		p.Brand == other.Brand &&
		p.ImagePath == other.ImagePath
}

// String returns a short human-readable form used in log lines.
func (p *Product) String() string {
	return fmt.Sprintf("%d (%s / %s)", p.ID, p.Brand, p.Name)
}

// ValidateAssetKey checks that key is a non-empty relative path that stays
// inside the asset root.
func ValidateAssetKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("image is required")
	}
	if filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return fmt.Errorf("image %q must be a relative path", key)
	}
	clean := path.Clean(filepath.ToSlash(key))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("image %q escapes the asset root", key)
	}
	return nil
}
