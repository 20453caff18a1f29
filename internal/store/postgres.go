package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InsertBookmark(ctx context.Context, item Bookmark) (Bookmark, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bookmarks (id, owner_name, question_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, item.ID, item.Owner, item.QuestionID).Scan(&item.CreatedAt)
	if err != nil {
		return Bookmark{}, fmt.Errorf("insert bookmark: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListBookmarks(ctx context.Context, owner string) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_name, question_id, created_at
		FROM bookmarks
		WHERE owner_name=$1
		ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	items := make([]Bookmark, 0)
	for rows.Next() {
		var item Bookmark
		if err := rows.Scan(&item.ID, &item.Owner, &item.QuestionID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmarks: %w", err)
	}
	return items, nil
}

// DeleteBookmark removes every bookmark row for the (owner, question) pair —
// duplicate creates leave more than one — and returns the first removed
// record. sql.ErrNoRows reports that nothing matched.
func (s *PostgresStore) DeleteBookmark(ctx context.Context, owner, questionID string) (Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM bookmarks
		WHERE owner_name=$1 AND question_id=$2
		RETURNING id, owner_name, question_id, created_at
	`, owner, questionID)
	if err != nil {
		return Bookmark{}, fmt.Errorf("delete bookmark: %w", err)
	}
	defer rows.Close()

	deleted := make([]Bookmark, 0, 1)
	for rows.Next() {
		var item Bookmark
		if err := rows.Scan(&item.ID, &item.Owner, &item.QuestionID, &item.CreatedAt); err != nil {
			return Bookmark{}, fmt.Errorf("scan deleted bookmark: %w", err)
		}
		deleted = append(deleted, item)
	}
	if err := rows.Err(); err != nil {
		return Bookmark{}, fmt.Errorf("iterate deleted bookmarks: %w", err)
	}
	if len(deleted) == 0 {
		return Bookmark{}, sql.ErrNoRows
	}
	return deleted[0], nil
}

// EnsureDefaultCollection creates the owner's default collection if it does
// not exist and returns it. The insert races on the partial unique index, so
// concurrent callers converge on one row; newID is only consumed when this
// call wins the insert.
func (s *PostgresStore) EnsureDefaultCollection(ctx context.Context, owner, newID, name string) (Collection, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, owner_name, name, is_default)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (owner_name) WHERE is_default DO NOTHING
	`, newID, owner, name)
	if err != nil {
		return Collection{}, fmt.Errorf("ensure default collection: %w", err)
	}

	items, err := s.queryCollections(ctx, `
		SELECT c.id, c.owner_name, c.name, c.is_default, c.created_at, c.updated_at, ci.question_id
		FROM collections c
		LEFT JOIN collection_items ci ON ci.collection_id = c.id
		WHERE c.owner_name=$1 AND c.is_default
	`, owner)
	if err != nil {
		return Collection{}, err
	}
	if len(items) == 0 {
		return Collection{}, sql.ErrNoRows
	}
	return items[0], nil
}

func (s *PostgresStore) InsertCollection(ctx context.Context, item Collection) (Collection, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO collections (id, owner_name, name, is_default)
		VALUES ($1, $2, $3, FALSE)
		RETURNING created_at, updated_at
	`, item.ID, item.Owner, item.Name).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Collection{}, fmt.Errorf("insert collection: %w", err)
	}
	item.Bookmarks = []string{}
	return item, nil
}

func (s *PostgresStore) ListCollections(ctx context.Context, owner string) ([]Collection, error) {
	return s.queryCollections(ctx, `
		SELECT c.id, c.owner_name, c.name, c.is_default, c.created_at, c.updated_at, ci.question_id
		FROM collections c
		LEFT JOIN collection_items ci ON ci.collection_id = c.id
		WHERE c.owner_name=$1
		ORDER BY c.created_at ASC, ci.question_id ASC
	`, owner)
}

func (s *PostgresStore) GetCollection(ctx context.Context, owner, collectionID string) (Collection, error) {
	items, err := s.queryCollections(ctx, `
		SELECT c.id, c.owner_name, c.name, c.is_default, c.created_at, c.updated_at, ci.question_id
		FROM collections c
		LEFT JOIN collection_items ci ON ci.collection_id = c.id
		WHERE c.owner_name=$1 AND c.id=$2
	`, owner, collectionID)
	if err != nil {
		return Collection{}, err
	}
	if len(items) == 0 {
		return Collection{}, sql.ErrNoRows
	}
	return items[0], nil
}

func (s *PostgresStore) GetCollectionByID(ctx context.Context, collectionID string) (Collection, error) {
	items, err := s.queryCollections(ctx, `
		SELECT c.id, c.owner_name, c.name, c.is_default, c.created_at, c.updated_at, ci.question_id
		FROM collections c
		LEFT JOIN collection_items ci ON ci.collection_id = c.id
		WHERE c.id=$1
	`, collectionID)
	if err != nil {
		return Collection{}, err
	}
	if len(items) == 0 {
		return Collection{}, sql.ErrNoRows
	}
	return items[0], nil
}

func (s *PostgresStore) queryCollections(ctx context.Context, query string, args ...any) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	items := make([]Collection, 0)
	index := make(map[string]int)
	for rows.Next() {
		var item Collection
		var questionID sql.NullString
		if err := rows.Scan(&item.ID, &item.Owner, &item.Name, &item.IsDefault, &item.CreatedAt, &item.UpdatedAt, &questionID); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		at, seen := index[item.ID]
		if !seen {
			item.Bookmarks = []string{}
			index[item.ID] = len(items)
			items = append(items, item)
			at = index[item.ID]
		}
		if questionID.Valid {
			items[at].Bookmarks = append(items[at].Bookmarks, questionID.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RenameCollection(ctx context.Context, owner, collectionID, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collections
		SET name=$3, updated_at=NOW()
		WHERE owner_name=$1 AND id=$2 AND NOT is_default
	`, owner, collectionID, name)
	if err != nil {
		return false, fmt.Errorf("rename collection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rename collection rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteCollection(ctx context.Context, owner, collectionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM collections
		WHERE owner_name=$1 AND id=$2 AND NOT is_default
	`, owner, collectionID)
	if err != nil {
		return false, fmt.Errorf("delete collection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete collection rows: %w", err)
	}
	return affected > 0, nil
}

// AddCollectionItem adds a question reference with add-to-set semantics.
// Returns false when the reference was already present, in which case nothing
// changes (updated_at included).
func (s *PostgresStore) AddCollectionItem(ctx context.Context, collectionID, questionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		WITH added AS (
			INSERT INTO collection_items (collection_id, question_id)
			VALUES ($1, $2)
			ON CONFLICT (collection_id, question_id) DO NOTHING
			RETURNING collection_id
		)
		UPDATE collections SET updated_at=NOW()
		WHERE id IN (SELECT collection_id FROM added)
	`, collectionID, questionID)
	if err != nil {
		return false, fmt.Errorf("add collection item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add collection item rows: %w", err)
	}
	return affected > 0, nil
}

// RemoveCollectionItem pulls a question reference. Removing an absent
// reference is a no-op, not an error.
func (s *PostgresStore) RemoveCollectionItem(ctx context.Context, collectionID, questionID string) error {
	_, err := s.db.ExecContext(ctx, `
		WITH removed AS (
			DELETE FROM collection_items
			WHERE collection_id=$1 AND question_id=$2
			RETURNING collection_id
		)
		UPDATE collections SET updated_at=NOW()
		WHERE id IN (SELECT collection_id FROM removed)
	`, collectionID, questionID)
	if err != nil {
		return fmt.Errorf("remove collection item: %w", err)
	}
	return nil
}

// RemoveDefaultCollectionItem pulls a question reference from the owner's
// default collection without requiring the caller to resolve its id first. A
// missing default collection is fine: there is nothing to pull from.
func (s *PostgresStore) RemoveDefaultCollectionItem(ctx context.Context, owner, questionID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM collection_items ci
		USING collections c
		WHERE ci.collection_id = c.id
		  AND c.owner_name=$1 AND c.is_default
		  AND ci.question_id=$2
	`, owner, questionID)
	if err != nil {
		return fmt.Errorf("remove default collection item: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureTheme(ctx context.Context, theme string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO themes (name)
		VALUES ($1)
		ON CONFLICT (name) DO NOTHING
	`, theme)
	if err != nil {
		return fmt.Errorf("ensure theme: %w", err)
	}
	return nil
}

// ToggleThemeVote applies one vote transition in a single atomic statement:
// an existing row with the same vote is cancelled; otherwise the row is
// inserted, or its vote switched if the voter was in the opposite camp.
func (s *PostgresStore) ToggleThemeVote(ctx context.Context, theme, userName, vote string) error {
	_, err := s.db.ExecContext(ctx, `
		WITH cancelled AS (
			DELETE FROM theme_votes
			WHERE theme=$1 AND user_name=$2 AND vote=$3
			RETURNING user_name
		)
		INSERT INTO theme_votes (theme, user_name, vote)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (SELECT 1 FROM cancelled)
		ON CONFLICT (theme, user_name) DO UPDATE SET vote=EXCLUDED.vote, updated_at=NOW()
	`, theme, userName, vote)
	if err != nil {
		return fmt.Errorf("toggle theme vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetThemeVote(ctx context.Context, theme string) (ThemeVote, error) {
	var name string
	if err := s.db.QueryRowContext(ctx, `SELECT name FROM themes WHERE name=$1`, theme).Scan(&name); err != nil {
		return ThemeVote{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_name, vote
		FROM theme_votes
		WHERE theme=$1
		ORDER BY user_name ASC
	`, theme)
	if err != nil {
		return ThemeVote{}, fmt.Errorf("get theme vote: %w", err)
	}
	defer rows.Close()

	item := ThemeVote{Theme: name, UpVotes: []string{}, DownVotes: []string{}}
	for rows.Next() {
		var userName, vote string
		if err := rows.Scan(&userName, &vote); err != nil {
			return ThemeVote{}, fmt.Errorf("scan theme vote: %w", err)
		}
		if vote == "upvote" {
			item.UpVotes = append(item.UpVotes, userName)
		} else {
			item.DownVotes = append(item.DownVotes, userName)
		}
	}
	if err := rows.Err(); err != nil {
		return ThemeVote{}, fmt.Errorf("iterate theme votes: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListThemeVotes(ctx context.Context) ([]ThemeVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, tv.user_name, tv.vote
		FROM themes t
		LEFT JOIN theme_votes tv ON tv.theme = t.name
		ORDER BY t.name ASC, tv.user_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list theme votes: %w", err)
	}
	defer rows.Close()

	items := make([]ThemeVote, 0)
	index := make(map[string]int)
	for rows.Next() {
		var name string
		var userName, vote sql.NullString
		if err := rows.Scan(&name, &userName, &vote); err != nil {
			return nil, fmt.Errorf("scan theme votes: %w", err)
		}
		at, seen := index[name]
		if !seen {
			index[name] = len(items)
			items = append(items, ThemeVote{Theme: name, UpVotes: []string{}, DownVotes: []string{}})
			at = index[name]
		}
		if !userName.Valid {
			continue
		}
		if vote.String == "upvote" {
			items[at].UpVotes = append(items[at].UpVotes, userName.String)
		} else {
			items[at].DownVotes = append(items[at].DownVotes, userName.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate theme votes: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
