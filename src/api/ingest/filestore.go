package ingest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore removes stored screenshot uploads once an ingestion finishes.
// The real upload path is the file-storage collaborator; the service only
// needs deletion.
type FileStore interface {
	Remove(ref string) error
}

// DirStore deletes uploads kept under a local directory. Refs outside the
// directory are refused.
type DirStore struct {
	Dir string
}

func (s DirStore) Remove(ref string) error {
	if s.Dir == "" {
		return nil
	}
	name := filepath.Base(filepath.Clean(ref))
	if name == "." || name == string(filepath.Separator) || strings.Contains(name, "..") {
		return errors.New("bad file reference")
	}
	err := os.Remove(filepath.Join(s.Dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// NopStore is used when uploads live in external object storage that is
// cleaned up out of band.
type NopStore struct{}

func (NopStore) Remove(string) error { return nil }
