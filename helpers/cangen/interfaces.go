// cangen/interfaces.go

package cangen

import (
	"context"
	"io"
)

// Uploader stores a generated can. objectstore.ObjectStore satisfies it, which lets
// tests and emulator runs seed any source store.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader) (int64, error)
}
