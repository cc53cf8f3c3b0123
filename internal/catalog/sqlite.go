package catalog

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the local mirror of CMS objects.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "breviasync.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// --- Collections ---

// PutCollection inserts or replaces a collection row. Index bookkeeping
// fields (collection_uuid, collection_updated) are written as given; the
// synchronizer updates them through SetCollectionSync instead.
func (s *Store) PutCollection(c Collection) error {
	metadata, err := json.Marshal(orEmptyMap(c.Metadata))
	if err != nil {
		return fmt.Errorf("marshaling collection metadata: %w", err)
	}
	loadOptions, err := json.Marshal(orEmptySlice(c.LinkLoadOptions))
	if err != nil {
		return fmt.Errorf("marshaling link load options: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO collections (id, name, title, description, metadata_json, link_load_options_json, collection_uuid, collection_updated, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			title = excluded.title,
			description = excluded.description,
			metadata_json = excluded.metadata_json,
			link_load_options_json = excluded.link_load_options_json,
			collection_uuid = excluded.collection_uuid,
			collection_updated = excluded.collection_updated,
			deleted = excluded.deleted`,
		c.ID, c.Name, c.Title, c.Description, string(metadata), string(loadOptions),
		nullString(c.CollectionUUID), nullTime(c.CollectionUpdated), boolInt(c.Deleted),
	)
	return err
}

// GetCollection returns the collection with the given local id.
func (s *Store) GetCollection(id string) (Collection, error) {
	return s.scanCollection(s.db.QueryRow(
		collectionSelect+` WHERE id = ?`, id))
}

// GetCollectionByName returns the collection with the given unique name.
func (s *Store) GetCollectionByName(name string) (Collection, error) {
	return s.scanCollection(s.db.QueryRow(
		collectionSelect+` WHERE name = ?`, name))
}

const collectionSelect = `
	SELECT id, name, title, description, metadata_json, link_load_options_json, collection_uuid, collection_updated, deleted
	FROM collections`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanCollection(row rowScanner) (Collection, error) {
	var c Collection
	var metadata, loadOptions string
	var uuid, updated sql.NullString
	var deleted int
	err := row.Scan(&c.ID, &c.Name, &c.Title, &c.Description, &metadata, &loadOptions, &uuid, &updated, &deleted)
	if err == sql.ErrNoRows {
		return Collection{}, ErrNotFound
	}
	if err != nil {
		return Collection{}, err
	}
	if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
		return Collection{}, fmt.Errorf("parsing collection metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(loadOptions), &c.LinkLoadOptions); err != nil {
		return Collection{}, fmt.Errorf("parsing link load options: %w", err)
	}
	c.CollectionUUID = uuid.String
	if c.CollectionUpdated, err = parseNullTime(updated); err != nil {
		return Collection{}, fmt.Errorf("parsing collection_updated: %w", err)
	}
	c.Deleted = deleted != 0
	return c, nil
}

// SetCollectionSync updates the remote sync bookkeeping of a collection
// without going through any event path. An empty uuid clears the field.
func (s *Store) SetCollectionSync(id, uuid string, updated *time.Time) error {
	res, err := s.db.Exec(`UPDATE collections SET collection_uuid = ?, collection_updated = ? WHERE id = ?`,
		nullString(uuid), nullTime(updated), id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// ListCollections returns all collections ordered by name.
func (s *Store) ListCollections() ([]Collection, error) {
	rows, err := s.db.Query(collectionSelect + ` ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Collection
	for rows.Next() {
		c, err := s.scanCollection(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Documents ---

// PutDocument inserts or replaces a document row. Index bookkeeping
// fields are written as given; the synchronizer updates them through
// SetDocumentIndexState instead.
func (s *Store) PutDocument(d Document) error {
	var extra any
	if d.Extra != nil {
		data, err := json.Marshal(d.Extra)
		if err != nil {
			return fmt.Errorf("marshaling document extra: %w", err)
		}
		extra = string(data)
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, kind, title, description, body, url, status, deleted, extra_json, index_status, index_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			description = excluded.description,
			body = excluded.body,
			url = excluded.url,
			status = excluded.status,
			deleted = excluded.deleted,
			extra_json = excluded.extra_json,
			index_status = excluded.index_status,
			index_updated = excluded.index_updated`,
		d.ID, string(d.Kind), d.Title, d.Description, d.Body, d.URL, d.Status,
		boolInt(d.Deleted), extra, nullString(d.IndexStatus), nullTime(d.IndexUpdated),
	)
	return err
}

// GetDocument returns the document with the given id.
func (s *Store) GetDocument(id string) (Document, error) {
	return s.scanDocument(s.db.QueryRow(documentSelect+` WHERE id = ?`, id))
}

const documentSelect = `
	SELECT id, kind, title, description, body, url, status, deleted, extra_json, index_status, index_updated
	FROM documents`

func (s *Store) scanDocument(row rowScanner) (Document, error) {
	var d Document
	var kind string
	var deleted int
	var extra, indexStatus, indexUpdated sql.NullString
	err := row.Scan(&d.ID, &kind, &d.Title, &d.Description, &d.Body, &d.URL, &d.Status, &deleted, &extra, &indexStatus, &indexUpdated)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	d.Kind = Kind(kind)
	d.Deleted = deleted != 0
	if extra.Valid && extra.String != "" {
		d.Extra = &Extra{}
		if err := json.Unmarshal([]byte(extra.String), d.Extra); err != nil {
			return Document{}, fmt.Errorf("parsing document extra: %w", err)
		}
	}
	d.IndexStatus = indexStatus.String
	if d.IndexUpdated, err = parseNullTime(indexUpdated); err != nil {
		return Document{}, fmt.Errorf("parsing index_updated: %w", err)
	}
	return d, nil
}

// SetDocumentIndexState updates index_status and index_updated without
// going through any event path. Empty status and nil time clear the fields.
func (s *Store) SetDocumentIndexState(id, status string, updated *time.Time) error {
	res, err := s.db.Exec(`UPDATE documents SET index_status = ?, index_updated = ? WHERE id = ?`,
		nullString(status), nullTime(updated), id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// SetDocumentIndexStatus updates index_status only, leaving index_updated
// untouched.
func (s *Store) SetDocumentIndexStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE documents SET index_status = ? WHERE id = ?`,
		nullString(status), id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// --- Associations ---

// Link associates a document with a collection. Linking twice is a no-op.
func (s *Store) Link(collectionID, documentID string) error {
	_, err := s.db.Exec(`
		INSERT INTO document_collections (collection_id, document_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING`, collectionID, documentID)
	return err
}

// Unlink removes a document/collection association.
func (s *Store) Unlink(collectionID, documentID string) error {
	_, err := s.db.Exec(`DELETE FROM document_collections WHERE collection_id = ? AND document_id = ?`,
		collectionID, documentID)
	return err
}

// CollectionsForDocument returns the collections a document belongs to.
func (s *Store) CollectionsForDocument(documentID string) ([]Collection, error) {
	rows, err := s.db.Query(collectionSelect+`
		JOIN document_collections dc ON dc.collection_id = collections.id
		WHERE dc.document_id = ? ORDER BY name ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Collection
	for rows.Next() {
		c, err := s.scanCollection(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// DocumentsForCollection returns the documents associated with a collection.
func (s *Store) DocumentsForCollection(collectionID string) ([]Document, error) {
	rows, err := s.db.Query(documentSelect+`
		JOIN document_collections dc ON dc.document_id = documents.id
		WHERE dc.collection_id = ? ORDER BY documents.id ASC`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		d, err := s.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// --- Streams ---

func (s *Store) PutStream(st Stream) error {
	_, err := s.db.Exec(`
		INSERT INTO streams (id, document_id, file_name, mime_type, file_size, uri)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			file_name = excluded.file_name,
			mime_type = excluded.mime_type,
			file_size = excluded.file_size,
			uri = excluded.uri`,
		st.ID, st.DocumentID, st.FileName, st.MimeType, st.FileSize, st.URI)
	return err
}

// StreamsForDocument returns the streams attached to a document.
func (s *Store) StreamsForDocument(documentID string) ([]Stream, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, file_name, mime_type, file_size, uri
		FROM streams WHERE document_id = ? ORDER BY id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Stream
	for rows.Next() {
		var st Stream
		if err := rows.Scan(&st.ID, &st.DocumentID, &st.FileName, &st.MimeType, &st.FileSize, &st.URI); err != nil {
			return nil, err
		}
		results = append(results, st)
	}
	return results, rows.Err()
}

// --- Jobs ---

// EnqueueJob inserts a pending job. MaxAttempts defaults to 3 and
// Priority to 5 when zero.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	priority := job.Priority
	if priority == 0 {
		priority = 5
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, priority, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, priority, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically claims the next runnable pending job of the
// given types, moving it to "running". Returns nil when none is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, priority, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY priority DESC, run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts, &j.Priority,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

// CompleteJob marks a job completed.
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// FailJob records a failure. The job is rescheduled with exponential
// backoff until max_attempts is reached, then marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

// --- helpers ---

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []LinkLoadOption) []LinkLoadOption {
	if s == nil {
		return []LinkLoadOption{}
	}
	return s
}
