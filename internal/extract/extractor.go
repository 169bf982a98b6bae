package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/corbeau/kbserve/internal/model"
)

var (
	// ErrUnsupportedType means no extractor is registered for the declared
	// file type.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrEmptyDocument means extraction succeeded but produced no text.
	ErrEmptyDocument = errors.New("document contains no extractable text")
)

// Result is the normalized output of text extraction. Pages is a best-effort
// per-page breakdown and may be empty for formats without page structure.
type Result struct {
	Text  string
	Pages []string
	Title string
}

type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*Result, error)
}

type Factory func() Extractor

var (
	registryMu sync.RWMutex
	registry   = map[model.FileType]Factory{}
)

func Register(fileType model.FileType, factory Factory) {
	if factory == nil {
		return
	}
	registryMu.Lock()
	registry[fileType] = factory
	registryMu.Unlock()
}

func New(fileType model.FileType) (Extractor, error) {
	registryMu.RLock()
	factory := registry[fileType]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
	return factory(), nil
}

// normalizeText collapses Windows line endings and trims outer whitespace.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
