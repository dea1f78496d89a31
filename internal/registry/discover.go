package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"

	"github.com/starford/leetlab/internal/models"
	"github.com/starford/leetlab/internal/storage"
)

// ModuleFactory returns the raw loader for the unit with the given id.
type ModuleFactory func(id string) models.ModuleLoader

// Discover scans store for demo folders and returns the two registration
// tables Build expects. Sidecars are read raw; parsing happens in Build so a
// bad sidecar only affects its own unit.
func Discover(store storage.Provider, modules ModuleFactory, logger *slog.Logger) (map[string]models.ModuleLoader, map[string][]byte, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ids, err := store.Units()
	if err != nil {
		return nil, nil, fmt.Errorf("registry: discover: %w", err)
	}

	units := make(map[string]models.ModuleLoader, len(ids))
	metas := make(map[string][]byte)
	for _, id := range ids {
		units[path.Join(id, storage.EntryFile)] = modules(id)

		for _, name := range []string{storage.MetaFile, storage.MetaFileAlt} {
			p := path.Join(id, name)
			data, err := store.Read(p)
			if err == nil {
				metas[p] = data
				break
			}
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("registry: read metadata failed",
					slog.String("id", id),
					slog.String("error", err.Error()))
				break
			}
		}
	}

	logger.Debug("registry: discovered units",
		slog.Int("units", len(units)),
		slog.Int("sidecars", len(metas)))
	return units, metas, nil
}
