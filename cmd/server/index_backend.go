package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"loreweave.ai/internal/persistence/indexdb"
)

func openRuntimeIndex(ctx context.Context, dataDir string, e serverEnv, disable bool, logger *log.Logger) (indexdb.Sink, error) {
	if disable {
		return indexdb.Nop{}, nil
	}
	switch strings.ToLower(strings.TrimSpace(e.IndexBackend)) {
	case "none", "off", "disabled":
		return indexdb.Nop{}, nil
	case "", "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "loreweave.sqlite"))
	case "mongo", "mongodb":
		if e.MongoURI == "" {
			return nil, fmt.Errorf("LW_INDEX_BACKEND=%s but LW_MONGO_URI is empty", e.IndexBackend)
		}
		return indexdb.OpenMongo(ctx, e.MongoURI, e.MongoDB, logger)
	default:
		return nil, fmt.Errorf("unsupported LW_INDEX_BACKEND: %s", e.IndexBackend)
	}
}
