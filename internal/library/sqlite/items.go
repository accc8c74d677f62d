package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"danmu/internal/library"
)

const itemColumns = `id, kind, name, year, index_number, parent_index_number,
	series_id, season_id, series_name, path, library_name, is_virtual`

var _ library.Store = (*Store)(nil)
var _ library.Upserter = (*Store)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*library.Item, error) {
	var (
		item    library.Item
		kind    string
		virtual int
	)
	if err := row.Scan(
		&item.ID, &kind, &item.Name, &item.Year, &item.IndexNumber, &item.ParentIndexNumber,
		&item.SeriesID, &item.SeasonID, &item.SeriesName, &item.Path, &item.LibraryName, &virtual,
	); err != nil {
		return nil, err
	}
	item.Kind = library.ParseKind(kind)
	item.Virtual = virtual != 0
	return &item, nil
}

// GetItem loads one item with its provider ids.
func (s *Store) GetItem(ctx context.Context, id string) (*library.Item, error) {
	var item *library.Item
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id)
		scanned, err := scanItem(row)
		if err != nil {
			return err
		}
		item = scanned
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", library.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	ids, err := s.providerIDs(ctx, []string{item.ID})
	if err != nil {
		return nil, err
	}
	item.ProviderIDs = ids[item.ID]
	return item, nil
}

// Children lists seasons of a series or episodes of a season.
func (s *Store) Children(ctx context.Context, parentID string, kind library.Kind) ([]*library.Item, error) {
	var column string
	switch kind {
	case library.KindSeason:
		column = "series_id"
	case library.KindEpisode:
		column = "season_id"
	default:
		return nil, fmt.Errorf("children of kind %s are not supported", kind)
	}
	query := "SELECT " + itemColumns + " FROM items WHERE " + column + " = ? AND kind = ? " +
		"ORDER BY parent_index_number, index_number, name"

	var items []*library.Item
	err := retryOnBusy(ctx, func() error {
		items = items[:0]
		rows, err := s.db.QueryContext(ctx, query, parentID, kind.String())
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parentID, err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	providerIDs, err := s.providerIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		item.ProviderIDs = providerIDs[item.ID]
	}
	return items, nil
}

// LibraryOptions reports whether the item's library has acquisition disabled.
func (s *Store) LibraryOptions(_ context.Context, item *library.Item) (library.Options, error) {
	if item == nil {
		return library.Options{}, nil
	}
	_, disabled := s.disabled[strings.ToLower(strings.TrimSpace(item.LibraryName))]
	return library.Options{Name: item.LibraryName, Disabled: disabled}, nil
}

// Commit persists the item's provider ids. The item must already exist.
func (s *Store) Commit(ctx context.Context, item *library.Item) error {
	if item == nil {
		return errors.New("commit: nil item")
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, "UPDATE items SET updated_at = ? WHERE id = ?", now(), item.ID)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return fmt.Errorf("%w: %s", library.ErrNotFound, item.ID)
		}
		if err := writeProviderIDs(ctx, tx, item); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Upsert inserts or replaces an item and merges its non-empty provider ids.
func (s *Store) Upsert(ctx context.Context, item *library.Item) error {
	if item == nil || strings.TrimSpace(item.ID) == "" {
		return errors.New("upsert: item id is required")
	}
	virtual := 0
	if item.Virtual {
		virtual = 1
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `INSERT INTO items (`+itemColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				name = excluded.name,
				year = excluded.year,
				index_number = excluded.index_number,
				parent_index_number = excluded.parent_index_number,
				series_id = excluded.series_id,
				season_id = excluded.season_id,
				series_name = excluded.series_name,
				path = excluded.path,
				library_name = excluded.library_name,
				is_virtual = excluded.is_virtual,
				updated_at = excluded.updated_at`,
			item.ID, item.Kind.String(), item.Name, item.Year, item.IndexNumber, item.ParentIndexNumber,
			item.SeriesID, item.SeasonID, item.SeriesName, item.Path, item.LibraryName, virtual, now(),
		)
		if err != nil {
			return err
		}
		if err := writeProviderIDs(ctx, tx, item); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func writeProviderIDs(ctx context.Context, tx *sql.Tx, item *library.Item) error {
	for key, value := range item.ProviderIDs {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO provider_ids (item_id, provider_key, value)
			VALUES (?, ?, ?)
			ON CONFLICT(item_id, provider_key) DO UPDATE SET value = excluded.value`,
			item.ID, key, value,
		); err != nil {
			return fmt.Errorf("write provider id %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) providerIDs(ctx context.Context, itemIDs []string) (map[string]map[string]string, error) {
	result := make(map[string]map[string]string, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(itemIDs)), ",")
	args := make([]any, 0, len(itemIDs))
	for _, id := range itemIDs {
		args = append(args, id)
	}

	err := retryOnBusy(ctx, func() error {
		clear(result)
		rows, err := s.db.QueryContext(ctx,
			"SELECT item_id, provider_key, value FROM provider_ids WHERE item_id IN ("+placeholders+")", args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var itemID, key, value string
			if err := rows.Scan(&itemID, &key, &value); err != nil {
				return err
			}
			if result[itemID] == nil {
				result[itemID] = make(map[string]string)
			}
			result[itemID][key] = value
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load provider ids: %w", err)
	}
	return result, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
