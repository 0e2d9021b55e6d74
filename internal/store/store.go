// Package store persists the subscription list in SQLite. Only feed
// descriptors are stored; articles and enablement flags live in memory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Register the sqlite database/sql driver.

	"feedflow/internal/registry"
)

// feedColumns lists columns added after the first schema, so older databases
// are migrated in place.
var feedColumns = []struct {
	name string
	ddl  string
}{
	{"category", "ALTER TABLE feeds ADD COLUMN category TEXT"},
	{"favicon", "ALTER TABLE feeds ADD COLUMN favicon TEXT"},
	{"description", "ALTER TABLE feeds ADD COLUMN description TEXT"},
	{"sort_order", "ALTER TABLE feeds ADD COLUMN sort_order INTEGER NOT NULL DEFAULT 0"},
}

// Open opens the database at path with a single connection in WAL mode.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite behaves best with a single connection for this workload.
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return db, nil
}

// Init creates the schema and migrates databases written by older versions.
func Init(ctx context.Context, db *sql.DB) error {
	ctx = contextOrBackground(ctx)

	schema := `
CREATE TABLE IF NOT EXISTS feeds (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	category TEXT,
	favicon TEXT,
	description TEXT,
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	return ensureFeedColumns(ctx, db)
}

// ListFeeds returns the stored subscriptions in list order.
func ListFeeds(ctx context.Context, db *sql.DB) ([]registry.FeedDescriptor, error) {
	ctx = contextOrBackground(ctx)

	rows, err := db.QueryContext(ctx, `
SELECT id, url, title, category, favicon, description
FROM feeds
ORDER BY sort_order ASC, created_at ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}

	defer closeRows(rows)

	feeds := make([]registry.FeedDescriptor, 0)

	for rows.Next() {
		desc, scanErr := scanFeed(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		feeds = append(feeds, desc)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate feed rows: %w", rowsErr)
	}

	slog.Debug("db list feeds", "count", len(feeds))

	return feeds, nil
}

// SaveFeed inserts desc at the end of the list, or updates the stored row
// with the same id in place.
func SaveFeed(ctx context.Context, db *sql.DB, desc registry.FeedDescriptor) error {
	ctx = contextOrBackground(ctx)

	_, err := db.ExecContext(ctx, `
INSERT INTO feeds (id, url, title, category, favicon, description, sort_order, created_at)
VALUES (?, ?, ?, ?, ?, ?, COALESCE((SELECT MAX(sort_order) + 1 FROM feeds), 1), ?)
ON CONFLICT(id) DO UPDATE SET
	url = excluded.url,
	title = excluded.title,
	category = excluded.category,
	favicon = excluded.favicon,
	description = excluded.description
`,
		desc.ID,
		desc.URL,
		desc.Title,
		nullString(desc.Category),
		nullString(desc.Favicon),
		nullString(desc.Description),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save feed %q: %w", desc.ID, err)
	}

	return nil
}

// SeedFeeds stores descs when the database holds no subscriptions yet and
// reports how many were written.
func SeedFeeds(ctx context.Context, db *sql.DB, descs []registry.FeedDescriptor) (int, error) {
	ctx = contextOrBackground(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed feeds transaction: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	var existing int

	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM feeds").Scan(&existing)
	if err != nil {
		return 0, fmt.Errorf("count feeds before seeding: %w", err)
	}

	if existing > 0 {
		return 0, nil
	}

	now := time.Now().UTC()

	for idx, desc := range descs {
		_, execErr := tx.ExecContext(ctx, `
INSERT INTO feeds (id, url, title, category, favicon, description, sort_order, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
			desc.ID,
			desc.URL,
			desc.Title,
			nullString(desc.Category),
			nullString(desc.Favicon),
			nullString(desc.Description),
			idx+1,
			now,
		)
		if execErr != nil {
			return 0, fmt.Errorf("seed feed %q: %w", desc.ID, execErr)
		}
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return 0, fmt.Errorf("commit seed feeds transaction: %w", commitErr)
	}

	committed = true

	slog.Info("db seeded feeds", "count", len(descs))

	return len(descs), nil
}

// DeleteFeed removes a subscription. Deleting an unknown id is not an error.
func DeleteFeed(ctx context.Context, db *sql.DB, feedID string) error {
	ctx = contextOrBackground(ctx)

	_, err := db.ExecContext(ctx, "DELETE FROM feeds WHERE id = ?", feedID)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}

	return nil
}

// UpdateFeedOrder stores the requested order. Unknown and repeated ids are
// ignored, and feeds missing from orderedFeedIDs keep their relative order
// after the requested ones.
func UpdateFeedOrder(ctx context.Context, db *sql.DB, orderedFeedIDs []string) error {
	ctx = contextOrBackground(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update feed order transaction: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	existingIDs, existing, orderErr := loadFeedOrderIDs(ctx, tx)
	if orderErr != nil {
		return orderErr
	}

	finalOrder := mergeFeedOrder(orderedFeedIDs, existingIDs, existing)

	applyErr := applyFeedOrder(ctx, tx, finalOrder)
	if applyErr != nil {
		return applyErr
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("commit update feed order transaction: %w", commitErr)
	}

	committed = true

	return nil
}

//nolint:gocritic // Pair return keeps call sites simple and explicit.
func loadFeedOrderIDs(ctx context.Context, tx *sql.Tx) ([]string, map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM feeds ORDER BY sort_order ASC, created_at ASC, id ASC")
	if err != nil {
		return nil, nil, fmt.Errorf("query existing feed order IDs: %w", err)
	}

	defer closeRows(rows)

	existingIDs := make([]string, 0)
	existing := make(map[string]struct{})

	for rows.Next() {
		var id string

		scanErr := rows.Scan(&id)
		if scanErr != nil {
			return nil, nil, fmt.Errorf("scan feed order ID: %w", scanErr)
		}

		existingIDs = append(existingIDs, id)
		existing[id] = struct{}{}
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, nil, fmt.Errorf("iterate feed order rows: %w", rowsErr)
	}

	return existingIDs, existing, nil
}

func mergeFeedOrder(orderedFeedIDs, existingIDs []string, existing map[string]struct{}) []string {
	seen := make(map[string]struct{})
	finalOrder := make([]string, 0, len(existingIDs))

	for _, id := range orderedFeedIDs {
		if !shouldIncludeFeedInOrder(id, existing, seen) {
			continue
		}

		seen[id] = struct{}{}
		finalOrder = append(finalOrder, id)
	}

	for _, id := range existingIDs {
		if _, ok := seen[id]; ok {
			continue
		}

		finalOrder = append(finalOrder, id)
	}

	return finalOrder
}

func shouldIncludeFeedInOrder(id string, existing, seen map[string]struct{}) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}

	if _, ok := existing[id]; !ok {
		return false
	}

	if _, dup := seen[id]; dup {
		return false
	}

	return true
}

func applyFeedOrder(ctx context.Context, tx *sql.Tx, finalOrder []string) error {
	stmt, err := tx.PrepareContext(ctx, "UPDATE feeds SET sort_order = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare feed order update statement: %w", err)
	}

	defer func() {
		closeErr := stmt.Close()
		if closeErr != nil {
			slog.Warn("stmt close failed", "err", closeErr)
		}
	}()

	for idx, id := range finalOrder {
		_, execErr := stmt.ExecContext(ctx, idx+1, id)
		if execErr != nil {
			return fmt.Errorf("execute feed order update statement: %w", execErr)
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (registry.FeedDescriptor, error) {
	var (
		desc        registry.FeedDescriptor
		category    sql.NullString
		favicon     sql.NullString
		description sql.NullString
	)

	err := row.Scan(&desc.ID, &desc.URL, &desc.Title, &category, &favicon, &description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.FeedDescriptor{}, err
		}

		return registry.FeedDescriptor{}, fmt.Errorf("scan feed row: %w", err)
	}

	desc.Category = category.String
	desc.Favicon = favicon.String
	desc.Description = description.String

	return desc, nil
}

func ensureFeedColumns(ctx context.Context, db *sql.DB) error {
	for _, column := range feedColumns {
		var present int

		err := db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM pragma_table_info('feeds')
WHERE name = ?
	`, column.name).Scan(&present)
		if err != nil {
			return fmt.Errorf("check feeds.%s column: %w", column.name, err)
		}

		if present > 0 {
			continue
		}

		_, execErr := db.ExecContext(ctx, column.ddl)
		if execErr != nil {
			return fmt.Errorf("add feeds.%s column: %w", column.name, execErr)
		}
	}

	_, err := db.ExecContext(ctx, `
WITH ranked AS (
	SELECT
		id,
		ROW_NUMBER() OVER (ORDER BY title COLLATE NOCASE, id) AS sort_position
	FROM feeds
)
UPDATE feeds
SET sort_order = (
	SELECT sort_position
	FROM ranked
	WHERE ranked.id = feeds.id
	)
	WHERE sort_order <= 0
	`)
	if err != nil {
		return fmt.Errorf("backfill feeds.sort_order values: %w", err)
	}

	return nil
}

// Subscriptions binds the package functions to one database for callers
// that persist registry changes.
type Subscriptions struct {
	db *sql.DB
}

func NewSubscriptions(db *sql.DB) *Subscriptions {
	return &Subscriptions{db: db}
}

func (s *Subscriptions) SaveFeed(ctx context.Context, desc registry.FeedDescriptor) error {
	return SaveFeed(ctx, s.db, desc)
}

func (s *Subscriptions) DeleteFeed(ctx context.Context, feedID string) error {
	return DeleteFeed(ctx, s.db, feedID)
}

func (s *Subscriptions) UpdateFeedOrder(ctx context.Context, orderedFeedIDs []string) error {
	return UpdateFeedOrder(ctx, s.db, orderedFeedIDs)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}

	return ctx
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	return value
}

func closeRows(rows *sql.Rows) {
	closeErr := rows.Close()
	if closeErr != nil {
		slog.Warn("rows close failed", "err", closeErr)
	}
}

func rollbackTx(tx *sql.Tx) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("tx rollback failed", "err", err)
	}
}
