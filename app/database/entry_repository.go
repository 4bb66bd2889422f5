package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLEntryRepository handles database operations for entries.
type SQLEntryRepository struct {
	db *DB
}

var _ EntryRepository = (*SQLEntryRepository)(nil)

func NewEntryRepository(db *DB) *SQLEntryRepository {
	return &SQLEntryRepository{db: db}
}

const entryColumns = `id, feed_id, feed_title, category_id, category, title, content, summary, author,
		tags, is_read, is_starred, is_archived, read_at,
		prelim_status, prelim_value, prelim_ignore, prelim_reason, prelim_summary,
		prelim_language, prelim_analyzed_at, prelim_model,
		deep_summary, deep_score, deep_analyzed_at, created_at, updated_at`

func (r *SQLEntryRepository) GetEntry(entryID string) (*Entry, error) {
	row := r.db.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, entryID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return entry, nil
}

func (r *SQLEntryRepository) GetEntryCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get entry count: %w", err)
	}
	return count, nil
}

// GetRecentEntries returns the newest entries first, bounded by limit. Used
// as the sample set for side-effect-free rule dry runs.
func (r *SQLEntryRepository) GetRecentEntries(limit int) ([]Entry, error) {
	rows, err := r.db.Query(`SELECT `+entryColumns+` FROM entries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry rows: %w", err)
	}

	return entries, nil
}

// GetUnanalyzedEntryIDs returns ids of entries without a preliminary result,
// oldest first, bounded by limit.
func (r *SQLEntryRepository) GetUnanalyzedEntryIDs(limit int) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT id FROM entries
		WHERE prelim_status = ''
		ORDER BY created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unanalyzed entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entry id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry ids: %w", err)
	}

	return ids, nil
}

func (r *SQLEntryRepository) UpsertEntry(entry Entry) error {
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = r.db.Exec(`
		INSERT INTO entries (
			id, feed_id, feed_title, category_id, category, title, content, summary, author,
			tags, is_read, is_starred, is_archived, read_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			feed_id = excluded.feed_id,
			feed_title = excluded.feed_title,
			category_id = excluded.category_id,
			category = excluded.category,
			title = excluded.title,
			content = excluded.content,
			summary = excluded.summary,
			author = excluded.author,
			tags = excluded.tags,
			updated_at = excluded.updated_at
	`, entry.ID, entry.FeedID, entry.FeedTitle, entry.CategoryID, entry.Category,
		entry.Title, entry.Content, entry.Summary, entry.Author,
		string(tags), entry.IsRead, entry.IsStarred, entry.IsArchived,
		formatTimePtr(entry.ReadAt), formatTime(createdAt), formatTime(now))

	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}

	return nil
}

func (r *SQLEntryRepository) UpdatePreliminaryResult(entryID string, result PreliminaryResult) error {
	res, err := r.db.Exec(`
		UPDATE entries
		SET prelim_status = ?, prelim_value = ?, prelim_ignore = ?, prelim_reason = ?,
		    prelim_summary = ?, prelim_language = ?, prelim_analyzed_at = ?, prelim_model = ?,
		    updated_at = ?
		WHERE id = ?
	`, result.Status, result.Value, result.Ignore, result.Reason,
		result.Summary, result.Language, formatTime(result.AnalyzedAt), result.Model,
		formatTime(time.Now().UTC()), entryID)

	if err != nil {
		return fmt.Errorf("failed to update preliminary result: %w", err)
	}

	return requireRow(res)
}

func (r *SQLEntryRepository) UpdateDeepResult(entryID string, summary string, score float64, analyzedAt time.Time) error {
	res, err := r.db.Exec(`
		UPDATE entries
		SET deep_summary = ?, deep_score = ?, deep_analyzed_at = ?, updated_at = ?
		WHERE id = ?
	`, summary, score, formatTime(analyzedAt), formatTime(time.Now().UTC()), entryID)

	if err != nil {
		return fmt.Errorf("failed to update deep result: %w", err)
	}

	return requireRow(res)
}

func (r *SQLEntryRepository) SetRead(entryID string, read bool, readAt *time.Time) error {
	res, err := r.db.Exec(`
		UPDATE entries SET is_read = ?, read_at = ?, updated_at = ? WHERE id = ?
	`, read, formatTimePtr(readAt), formatTime(time.Now().UTC()), entryID)

	if err != nil {
		return fmt.Errorf("failed to set read flag: %w", err)
	}

	return requireRow(res)
}

func (r *SQLEntryRepository) SetStarred(entryID string, starred bool) error {
	res, err := r.db.Exec(`
		UPDATE entries SET is_starred = ?, updated_at = ? WHERE id = ?
	`, starred, formatTime(time.Now().UTC()), entryID)

	if err != nil {
		return fmt.Errorf("failed to set starred flag: %w", err)
	}

	return requireRow(res)
}

func (r *SQLEntryRepository) SetArchived(entryID string, archived bool) error {
	res, err := r.db.Exec(`
		UPDATE entries SET is_archived = ?, updated_at = ? WHERE id = ?
	`, archived, formatTime(time.Now().UTC()), entryID)

	if err != nil {
		return fmt.Errorf("failed to set archived flag: %w", err)
	}

	return requireRow(res)
}

func (r *SQLEntryRepository) SetCategory(entryID string, categoryID string) error {
	res, err := r.db.Exec(`
		UPDATE entries SET category_id = ?, updated_at = ? WHERE id = ?
	`, categoryID, formatTime(time.Now().UTC()), entryID)

	if err != nil {
		return fmt.Errorf("failed to set category: %w", err)
	}

	return requireRow(res)
}

func (r *SQLEntryRepository) SetTags(entryID string, tags []string) error {
	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	res, err := r.db.Exec(`
		UPDATE entries SET tags = ?, updated_at = ? WHERE id = ?
	`, string(encoded), formatTime(time.Now().UTC()), entryID)

	if err != nil {
		return fmt.Errorf("failed to set tags: %w", err)
	}

	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var tags string
	var readAt, prelimAnalyzedAt, deepAnalyzedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&entry.ID, &entry.FeedID, &entry.FeedTitle, &entry.CategoryID, &entry.Category,
		&entry.Title, &entry.Content, &entry.Summary, &entry.Author,
		&tags, &entry.IsRead, &entry.IsStarred, &entry.IsArchived, &readAt,
		&entry.PrelimStatus, &entry.PrelimValue, &entry.PrelimIgnore, &entry.PrelimReason,
		&entry.PrelimSummary, &entry.PrelimLanguage, &prelimAnalyzedAt, &entry.PrelimModel,
		&entry.DeepSummary, &entry.DeepScore, &deepAnalyzedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &entry.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}

	if entry.ReadAt, err = parseTimePtr(readAt); err != nil {
		return nil, err
	}
	if entry.PrelimAnalyzedAt, err = parseTimePtr(prelimAnalyzedAt); err != nil {
		return nil, err
	}
	if entry.DeepAnalyzedAt, err = parseTimePtr(deepAnalyzedAt); err != nil {
		return nil, err
	}
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &entry, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// sqlTimeLayout is fixed-width so lexical comparison of stored timestamps
// matches chronological order. RFC3339Nano drops trailing zeros, which breaks
// string comparisons on run_after within the same second.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
