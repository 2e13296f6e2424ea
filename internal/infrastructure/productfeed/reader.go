// Package productfeed provides catalog readers backed by local data. The
// catalog service itself lives outside the storefront.
package productfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mfshop/storefront/internal/domain/catalog"
)

// StaticReader serves a fixed product list
type StaticReader struct {
	products []catalog.Product
}

// NewStaticReader creates a reader over products
func NewStaticReader(products []catalog.Product) *StaticReader {
	out := make([]catalog.Product, len(products))
	copy(out, products)
	return &StaticReader{products: out}
}

// List returns a copy of the products
func (r *StaticReader) List(ctx context.Context) ([]catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]catalog.Product, len(r.products))
	copy(out, r.products)
	return out, nil
}

// FileReader reads the product list from a JSON array on every call, so the
// file can be replaced while the application runs
type FileReader struct {
	path string
}

// NewFileReader creates a reader for path
func NewFileReader(path string) *FileReader {
	return &FileReader{path: path}
}

// List reads and decodes the file
func (r *FileReader) List(ctx context.Context) ([]catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %q: %w", r.path, err)
	}
	var products []catalog.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %q: %w", r.path, err)
	}
	return products, nil
}

var (
	_ catalog.Reader = (*StaticReader)(nil)
	_ catalog.Reader = (*FileReader)(nil)
)
