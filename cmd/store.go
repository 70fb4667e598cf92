package main

import (
	"context"
	"time"

	"github.com/finds-group/catalog-ingest/internal/catalog"
)

// initStore builds the configured catalog backend.
func initStore(ctx context.Context) (catalog.Store, func(), error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, nil, err
	}

	switch cfg.Store.Driver {
	case "postgres":
		store, err := catalog.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Table, cfg.Store.ChunkSize)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store := catalog.NewREST(catalog.RESTOptions{
			BaseURL:         cfg.Store.BaseURL,
			Key:             cfg.Store.Key,
			Table:           cfg.Store.Table,
			Timeout:         30 * time.Second,
			ChunkSize:       cfg.Store.ChunkSize,
			DeleteChunkSize: cfg.Store.DeleteChunkSize,
		})
		return store, func() {}, nil
	}
}
