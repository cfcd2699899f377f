package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/database/postgres"
)

func openStore(ctx context.Context, cfg *config.Config) (*postgres.Store, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	store, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// loadIndex returns the persisted identity index when it matches the
// active embeddings in storage, and an empty index otherwise.
func loadIndex(ctx context.Context, cfg *config.Config, store database.EmbeddingReader) *database.IdentityIndex {
	index := database.NewIdentityIndex()
	path := cfg.Database.HNSWIndexPath
	if path == "" {
		return index
	}
	if _, err := os.Stat(path); err != nil {
		return index
	}

	meta, err := database.LoadIndexMetadata(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("ignoring persisted index")
		return index
	}
	active, err := store.GetAllActiveEmbeddings(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not verify persisted index")
		return index
	}
	if meta.Count != active.Len() {
		log.Info().Int("persisted", meta.Count).Int("stored", active.Len()).Msg("persisted index is stale, rebuilding")
		return index
	}
	if err := index.LoadWithMetadata(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("loading persisted index failed")
		return database.NewIdentityIndex()
	}
	log.Info().Str("path", path).Int("embeddings", index.Size()).Msg("loaded persisted index")
	return index
}

func saveIndex(cfg *config.Config, index *database.IdentityIndex) {
	path := cfg.Database.HNSWIndexPath
	if path == "" {
		return
	}
	if err := index.SaveWithMetadata(path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("saving index failed")
		return
	}
	log.Info().Str("path", path).Int("embeddings", index.Size()).Msg("index saved")
}
