package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/tsawler/tabula"
)

// ReadFile returns the pages of a document. Plain text and markdown are read
// as a single page; everything else goes through the tabula extractor, which
// numbers PDF pages from 1.
func ReadFile(path string) ([]chunker.Page, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []chunker.Page{{Number: 1, Text: string(data)}}, nil
	}
	return readPages(path)
}

func readPages(path string) ([]chunker.Page, error) {
	ext := tabula.Open(path)
	count, err := ext.PageCount()
	_ = ext.Close()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	pages := make([]chunker.Page, 0, count)
	for i := 1; i <= count; i++ {
		text, _, err := tabula.Open(path).Pages(i).Text()
		if err != nil {
			return nil, fmt.Errorf("extract page %d of %s: %w", i, filepath.Base(path), err)
		}
		pages = append(pages, chunker.Page{Number: i, Text: text})
	}
	return pages, nil
}
