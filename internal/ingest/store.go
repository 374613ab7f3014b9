package ingest

import (
	"context"
	"io"

	"statereport/internal/model"
	"statereport/internal/storage"
)

// StoreSource yields the result of one storage query as a single batch.
type StoreSource struct {
	store storage.Store
	query storage.SampleQuery
	done  bool
}

func NewStoreSource(store storage.Store, q storage.SampleQuery) *StoreSource {
	return &StoreSource{store: store, query: q}
}

func (s *StoreSource) Next(ctx context.Context) ([]model.Sample, error) {
	if s.done || s.store == nil {
		return nil, io.EOF
	}
	s.done = true
	return s.store.QuerySamples(ctx, s.query)
}
