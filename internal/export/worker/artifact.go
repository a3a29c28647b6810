package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuongbtq/csv-export-service/internal/export/domain"
)

// artifact is an export file written under a temporary name and published
// by renaming it to its final name, so a recorded file_path never points at
// a partial file.
type artifact struct {
	file      *os.File
	finalPath string
	closed    bool
	published bool
}

func createArtifact(dir, jobID string) (*artifact, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	f, err := os.CreateTemp(dir, fmt.Sprintf("export_%s-*.csv.part", jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}

	return &artifact{
		file:      f,
		finalPath: filepath.Join(dir, domain.ArtifactName(jobID)),
	}, nil
}

func (a *artifact) Write(p []byte) (int, error) {
	return a.file.Write(p)
}

// publish syncs the temp file and renames it to the final path
func (a *artifact) publish() (string, error) {
	if err := a.file.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync export file: %w", err)
	}
	a.closed = true
	if err := a.file.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}
	if err := os.Rename(a.file.Name(), a.finalPath); err != nil {
		return "", fmt.Errorf("failed to publish export file: %w", err)
	}
	a.published = true
	return a.finalPath, nil
}

// discard closes and removes the temp file; a published artifact is left alone
func (a *artifact) discard() error {
	if a.published {
		return nil
	}
	var errs []error
	if !a.closed {
		a.closed = true
		if err := a.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(a.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
