package loader

import (
	"fmt"
	"io"
	"strings"
)

type textLoader struct{}

func init() {
	Register(&textLoader{})
}

func (l *textLoader) SupportedExts() []string {
	return []string{".txt", ".text", ".log", ".csv"}
}

func (l *textLoader) Load(r io.Reader, filename string) ([]Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, fmt.Errorf("file contains no text")
	}
	return []Page{{Number: 1, Text: content}}, nil
}
