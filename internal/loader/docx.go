package loader

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

type docxLoader struct{}

func init() {
	Register(&docxLoader{})
}

func (l *docxLoader) SupportedExts() []string {
	return []string{".docx"}
}

func (l *docxLoader) Load(r io.Reader, filename string) ([]Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read docx data: %w", err)
	}
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer doc.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(doc.Editable().GetContent()))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("docx contains no extractable text")
	}
	return []Page{{Number: 1, Text: text}}, nil
}
