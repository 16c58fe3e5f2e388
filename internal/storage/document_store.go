// Package storage keeps uploaded supporting documents on local disk and
// serves them back by URL. The engines only ever persist the returned URL.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DocumentStore persists raw file bytes and returns the URL they are served at.
type DocumentStore interface {
	Store(filename string, data []byte) (string, error)
}

type LocalDocumentStore struct {
	baseDir string
	baseURL string
}

func NewLocalDocumentStore(baseDir, baseURL string) (*LocalDocumentStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &LocalDocumentStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func (s *LocalDocumentStore) Store(filename string, data []byte) (string, error) {
	name := unsafeChars.ReplaceAllString(filepath.Base(filename), "_")
	// Timestamp prefix keeps names unique across repeated uploads
	name = fmt.Sprintf("%d_%s", time.Now().UnixNano(), name)

	path := filepath.Join(s.baseDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return s.baseURL + "/" + name, nil
}
