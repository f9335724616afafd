package store

import (
	"context"
	"fmt"

	"github.com/gridfeed/gridfeed/internal/registry"
)

// SyncSources persists the loaded registry so the catalog is queryable next to
// the data it produced. Runs at boot; existing rows are rewritten in place.
func (s *Store) SyncSources(ctx context.Context, reg *registry.Registry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update := tx.Rebind(`
		UPDATE sources
		SET name = ?, category = ?, cadence = ?, direct_url = ?, archive_url = ?,
		    snapshot_url = ?, transformer_tag = ?
		WHERE code = ?`)
	insert := tx.Rebind(`
		INSERT INTO sources (code, name, category, cadence, direct_url, archive_url, snapshot_url, transformer_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	for _, src := range reg.All() {
		res, err := tx.ExecContext(ctx, update,
			src.Name, src.Category, string(src.Cadence), src.DirectURL,
			src.ArchiveURL, src.SnapshotURL, src.TransformerTag, src.Code)
		if err != nil {
			return fmt.Errorf("failed to update source %s: %w", src.Code, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, insert,
			src.Code, src.Name, src.Category, string(src.Cadence), src.DirectURL,
			src.ArchiveURL, src.SnapshotURL, src.TransformerTag); err != nil {
			return fmt.Errorf("failed to insert source %s: %w", src.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sources: %w", err)
	}
	return nil
}

// Sources returns the persisted source catalog.
func (s *Store) Sources(ctx context.Context) ([]SourceRecord, error) {
	records := []SourceRecord{}
	query := `
		SELECT code, name, category, cadence, direct_url, archive_url, snapshot_url, transformer_tag
		FROM sources
		ORDER BY code`
	return records, s.selectRows(ctx, &records, query, nil)
}
