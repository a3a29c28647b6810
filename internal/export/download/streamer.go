// Package download serves finished export artifacts, either raw with
// byte-range support or gzip-compressed in fixed-size chunks.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/csv-export-service/internal/export/domain"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// DefaultChunkSize is the read size of the gzip stream
const DefaultChunkSize = 8192

// JobReader loads job records
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// Artifact is an open, completed export file
type Artifact struct {
	File    *os.File
	Name    string
	Size    int64
	ModTime time.Time
}

// Close releases the underlying file
func (a *Artifact) Close() error {
	return a.File.Close()
}

// Streamer resolves jobs to artifacts and writes them to HTTP responses
type Streamer struct {
	jobs      JobReader
	chunkSize int
	logger    *slog.Logger
}

// NewStreamer creates a new download streamer
func NewStreamer(jobs JobReader, chunkSize int, logger *slog.Logger) *Streamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Streamer{
		jobs:      jobs,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Open validates the job and opens its artifact. The caller closes it.
func (s *Streamer) Open(ctx context.Context, jobID string) (*Artifact, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrInvalidJobID
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusCompleted {
		return nil, domain.ErrNotReady
	}
	if job.FilePath == nil || *job.FilePath == "" {
		return nil, domain.ErrArtifactMissing
	}

	f, err := os.Open(*job.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Export file missing for completed job",
				slog.String("job_id", jobID),
				slog.String("path", *job.FilePath),
			)
			return nil, domain.ErrArtifactMissing
		}
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat export file: %w", err)
	}

	return &Artifact{
		File:    f,
		Name:    filepath.Base(*job.FilePath),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// ServeRange writes the artifact uncompressed, honouring Range and
// conditional request headers
func (s *Streamer) ServeRange(w http.ResponseWriter, r *http.Request, a *Artifact) {
	setAttachmentHeaders(w, a.Name)
	http.ServeContent(w, r, a.Name, a.ModTime, a.File)
}

// ServeGzip compresses the artifact chunk by chunk into the response. The
// deflate stream is only flushed by Close at end of input.
func (s *Streamer) ServeGzip(w http.ResponseWriter, a *Artifact) error {
	setAttachmentHeaders(w, a.Name)
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")
	w.WriteHeader(http.StatusOK)

	gz := gzip.NewWriter(w)
	buf := make([]byte, s.chunkSize)
	for {
		n, readErr := a.File.Read(buf)
		if n > 0 {
			if _, err := gz.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write gzip chunk: %w", err)
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read export file: %w", readErr)
		}
	}

	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

func setAttachmentHeaders(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}

// AcceptsGzip reports whether an Accept-Encoding header allows gzip, either
// by name or through the * wildcard, with a non-zero quality
func AcceptsGzip(header string) bool {
	wildcard := false
	for _, part := range strings.Split(header, ",") {
		coding, q := parseCoding(part)
		switch coding {
		case "gzip", "x-gzip":
			return q > 0
		case "*":
			wildcard = q > 0
		}
	}
	return wildcard
}

func parseCoding(part string) (string, float64) {
	fields := strings.Split(part, ";")
	coding := strings.ToLower(strings.TrimSpace(fields[0]))
	q := 1.0
	for _, param := range fields[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.TrimSpace(key) != "q" {
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return coding, 0
		}
		q = parsed
	}
	return coding, q
}
