package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"statereport/internal/config"
	"statereport/internal/model"
)

// FileSource reads one file as a single batch.
type FileSource struct {
	path   string
	cfg    *config.Manager
	logger *slog.Logger
	done   bool
}

func NewFileSource(path string, cfg *config.Manager, logger *slog.Logger) *FileSource {
	return &FileSource{path: path, cfg: cfg, logger: logger}
}

func (s *FileSource) Next(ctx context.Context) ([]model.Sample, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.done = true
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	samples, err := ReadSamples(f, s.cfg.Get())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	if s.logger != nil {
		s.logger.Info("file batch loaded", "path", s.path, "samples", len(samples))
	}
	return samples, nil
}

// ReaderSource reads r to the end as a single batch.
type ReaderSource struct {
	r    io.Reader
	cfg  *config.Manager
	done bool
}

func NewReaderSource(r io.Reader, cfg *config.Manager) *ReaderSource {
	return &ReaderSource{r: r, cfg: cfg}
}

func (s *ReaderSource) Next(ctx context.Context) ([]model.Sample, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.done = true
	return ReadSamples(s.r, s.cfg.Get())
}
