package schema

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// FeedParseError rejects a whole feed snapshot.
//
// Index is the 1-based position of the offending <product> element, or 0 when
// the document itself could not be read.
type FeedParseError struct {
	Index  int
	Field  string
	Reason string
	Err    error
}

func (e *FeedParseError) Error() string {
	var b strings.Builder
	b.WriteString("feed rejected")
	if e.Index > 0 {
		fmt.Fprintf(&b, ": record %d", e.Index)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FeedParseError) Unwrap() error {
	return e.Err
}

// IsFeedParseError reports whether err is or wraps a *FeedParseError.
func IsFeedParseError(err error) bool {
	var perr *FeedParseError
	return errors.As(err, &perr)
}

// feedDocument mirrors the on-disk feed. Pointer fields distinguish a missing
// element from an empty one.
type feedDocument struct {
	XMLName  xml.Name     `xml:"products"`
	Products []feedRecord `xml:"product"`
}

type feedRecord struct {
	ID    *string `xml:"id"`
	Name  *string `xml:"name"`
	Brand *string `xml:"brand"`
	Image *string `xml:"image"`
}

// ParseFeed decodes a feed document and returns its records in document order.
func ParseFeed(r io.Reader) ([]*Product, error) {
	var doc feedDocument
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, &FeedParseError{Reason: "malformed document", Err: err}
	}
	if err := expectEOF(dec); err != nil {
		return nil, &FeedParseError{Reason: "malformed document", Err: err}
	}

	products := make([]*Product, 0, len(doc.Products))
	for i, rec := range doc.Products {
		p, err := rec.toProduct(i + 1)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := CheckSnapshot(products); err != nil {
		return nil, err
	}
	return products, nil
}

// expectEOF consumes the rest of the document. Only whitespace, comments and
// processing instructions may follow the root element.
func expectEOF(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.Comment, xml.ProcInst:
		case xml.CharData:
			if len(strings.TrimSpace(string(t))) > 0 {
				return fmt.Errorf("unexpected text after </products>")
			}
		default:
			return fmt.Errorf("unexpected content after </products>")
		}
	}
}

// ReadFeedFile opens and parses the feed at path.
func ReadFeedFile(path string) ([]*Product, error) {
	// #nosec G304 - feed path comes from configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, &FeedParseError{Reason: "feed unreadable", Err: err}
	}
	defer f.Close()

	return ParseFeed(f)
}

func (rec feedRecord) toProduct(index int) (*Product, error) {
	fields := []struct {
		name  string
		value *string
	}{
		{"id", rec.ID},
		{"name", rec.Name},
		{"brand", rec.Brand},
		{"image", rec.Image},
	}
	for _, f := range fields {
		if f.value == nil {
			return nil, &FeedParseError{Index: index, Field: f.name, Reason: "missing"}
		}
		if strings.TrimSpace(*f.value) == "" {
			return nil, &FeedParseError{Index: index, Field: f.name, Reason: "empty"}
		}
	}

	id, err := strconv.ParseInt(strings.TrimSpace(*rec.ID), 10, 64)
	if err != nil {
		return nil, &FeedParseError{
			Index:  index,
			Field:  "id",
			Reason: fmt.Sprintf("%q is not an integer", strings.TrimSpace(*rec.ID)),
		}
	}

	p := &Product{
		ID:        id,
		Name:      strings.TrimSpace(*rec.Name),
		Brand:     strings.TrimSpace(*rec.Brand),
		ImagePath: strings.TrimSpace(*rec.Image),
	}
	if err := ValidateAssetKey(p.ImagePath); err != nil {
		return nil, &FeedParseError{Index: index, Field: "image", Err: err}
	}
	return p, nil
}

// CheckSnapshot validates a complete snapshot: every record must be valid and
// no identifier may appear twice.
func CheckSnapshot(products []*Product) error {
	seen := make(map[int64]int, len(products))
	for i, p := range products {
		if p == nil {
			return &FeedParseError{Index: i + 1, Reason: "nil record"}
		}
		if err := p.Validate(); err != nil {
			return &FeedParseError{Index: i + 1, Err: err}
		}
		if first, dup := seen[p.ID]; dup {
			return &FeedParseError{
				Index:  i + 1,
				Field:  "id",
				Reason: fmt.Sprintf("duplicate id %d (first seen at record %d)", p.ID, first),
			}
		}
		seen[p.ID] = i + 1
	}
	return nil
}

type feedOutRecord struct {
	ID    int64  `xml:"id"`
	Name  string `xml:"name"`
	Brand string `xml:"brand"`
	Image string `xml:"image"`
}

type feedOutDocument struct {
	XMLName  xml.Name        `xml:"products"`
	Products []feedOutRecord `xml:"product"`
}

// WriteFeed encodes products as an indented feed document.
func WriteFeed(w io.Writer, products []*Product) error {
	doc := feedOutDocument{Products: make([]feedOutRecord, 0, len(products))}
	for _, p := range products {
		doc.Products = append(doc.Products, feedOutRecord{
			ID:    p.ID,
			Name:  p.Name,
			Brand: p.Brand,
			Image: p.ImagePath,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write feed header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode feed: %w", err)
	}
	return enc.Close()
}

// WriteFeedFile writes products to path as a feed document.
func WriteFeedFile(path string, products []*Product) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create feed file %s: %w", path, err)
	}
	if err := WriteFeed(f, products); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close feed file %s: %w", path, err)
	}
	return nil
}
