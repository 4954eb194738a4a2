package loader

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
)

// Page is one unit of loaded text. Loaders that have no native page concept
// (markdown, plain text) emit a single page numbered 1.
type Page struct {
	Number int
	Text   string
}

// Loader extracts plain text from an uploaded file, one entry per page.
type Loader interface {
	Load(r io.Reader, filename string) ([]Page, error)
	SupportedExts() []string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Loader{}
)

func Register(l Loader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, ext := range l.SupportedExts() {
		registry[strings.ToLower(ext)] = l
	}
}

// ForFile picks a loader by file extension.
func ForFile(filename string) (Loader, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	registryMu.RLock()
	l := registry[ext]
	registryMu.RUnlock()
	if l == nil {
		return nil, fmt.Errorf("unsupported file type: %s", ext)
	}
	return l, nil
}

func SupportedExts() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	exts := make([]string, 0, len(registry))
	for ext := range registry {
		exts = append(exts, ext)
	}
	return exts
}
