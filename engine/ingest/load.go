package ingest

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtensions are the file types LoadDir reads when none are given.
var DefaultExtensions = []string{".txt", ".md"}

// fileMetadataExcluded lists file metadata kept out of embeddings and LLM
// context. Only file_path stays visible.
var fileMetadataExcluded = []string{
	"file_name",
	"file_type",
	"file_size",
	"creation_date",
	"last_modified_date",
	"last_accessed_date",
}

// LoadDir reads every file under dir whose extension is in exts, walking
// subdirectories and skipping hidden entries. Documents are keyed by their
// slash-separated path relative to dir and returned in lexical order.
func LoadDir(dir string, exts ...string) ([]Document, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		want[strings.ToLower(e)] = true
	}

	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !want[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		doc, err := loadFile(dir, path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: load %s: %w", dir, err)
	}
	return docs, nil
}

func loadFile(root, path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Document{}, err
	}
	rel = filepath.ToSlash(rel)

	fileType := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.IndexByte(fileType, ';'); i >= 0 {
		fileType = fileType[:i]
	}
	return Document{
		ID:   rel,
		Text: string(data),
		Metadata: map[string]any{
			"file_path":          rel,
			"file_name":          filepath.Base(path),
			"file_type":          fileType,
			"file_size":          info.Size(),
			"last_modified_date": info.ModTime().UTC().Format("2006-01-02"),
		},
		ExcludedEmbedMetadataKeys: fileMetadataExcluded,
		ExcludedLLMMetadataKeys:   fileMetadataExcluded,
	}, nil
}
