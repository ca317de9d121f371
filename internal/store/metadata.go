package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// MetadataFile is the name of the statistics file in each step directory.
const MetadataFile = "metadata.json"

// FileMetadataWriter writes metadata.json into the step directory, replacing
// any previous file atomically.
type FileMetadataWriter struct{}

func (FileMetadataWriter) WriteMetadata(dir string, metadata map[string]string) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+MetadataFile+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, MetadataFile))
}

// ReadMetadata loads the metadata.json of a step directory.
func ReadMetadata(dir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}
	var md map[string]string
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetadataFile, err)
	}
	return md, nil
}

// StoreMetadataWriter writes through Next and mirrors each record into the
// store under RunID. Directories are stored relative to BaseDir.
type StoreMetadataWriter struct {
	Next    engine.MetadataWriter
	Store   Store
	RunID   string
	BaseDir string
}

func (w *StoreMetadataWriter) WriteMetadata(dir string, metadata map[string]string) error {
	if w.Next != nil {
		if err := w.Next.WriteMetadata(dir, metadata); err != nil {
			return err
		}
	}
	rel := dir
	if w.BaseDir != "" {
		if r, err := filepath.Rel(w.BaseDir, dir); err == nil {
			rel = filepath.ToSlash(r)
		}
	}
	return w.Store.WriteStepRecord(context.Background(), &StepRecord{
		RunID:     w.RunID,
		Directory: rel,
		Step:      metadata[engine.MetaStep],
		Status:    schema.Status(metadata[engine.MetaStatus]),
		Metadata:  metadata,
	})
}

var (
	_ engine.MetadataWriter = FileMetadataWriter{}
	_ engine.MetadataWriter = (*StoreMetadataWriter)(nil)
)
