package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"statereport/internal/config"
	"statereport/internal/model"
	"statereport/internal/normalize"
)

// Source yields finite batches of samples. Next returns io.EOF once the
// source is exhausted.
type Source interface {
	Next(ctx context.Context) ([]model.Sample, error)
}

// ReadSamples parses a whole input: a JSON array, or one record per line in
// any format ParseLine accepts. The first malformed record fails the read.
func ReadSamples(r io.Reader, cfg *config.Config) ([]model.Sample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeSamples(NewParser(), data, cfg)
}

func DecodeSamples(parser *Parser, data []byte, cfg *config.Config) ([]model.Sample, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) > 0 && trim[0] == '[' {
		list, err := DecodeJSONSamples(trim)
		if err != nil {
			return nil, err
		}
		out := make([]model.Sample, 0, len(list))
		for i, fields := range list {
			s, err := normalize.Normalize(*fields, cfg)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			out = append(out, s)
		}
		return out, nil
	}
	out := make([]model.Sample, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields, err := parser.ParseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if fields == nil {
			continue
		}
		s, err := normalize.Normalize(*fields, cfg)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
