package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/urlutil"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Concurrent writers on one connection; SQLite serializes internally.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS urls (
	url             TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	discovered_at   DATETIME NOT NULL,
	last_attempt_at DATETIME,
	http_status     INTEGER,
	error           TEXT,
	content_type    TEXT,
	title           TEXT,
	final_url       TEXT,
	local_path      TEXT,
	sha256          TEXT,
	etag            TEXT,
	last_modified   TEXT
);

CREATE INDEX IF NOT EXISTS idx_urls_status ON urls(status);
CREATE INDEX IF NOT EXISTS idx_urls_sha256 ON urls(sha256);

CREATE TABLE IF NOT EXISTS documents (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	url             TEXT NOT NULL,
	final_url       TEXT NOT NULL,
	title           TEXT,
	content_type    TEXT,
	file_size       INTEGER,
	sha256          TEXT NOT NULL,
	local_path      TEXT NOT NULL,
	fetched_at      DATETIME NOT NULL,
	relevance_score REAL,
	topic_similarity REAL,
	entity_density  REAL,
	url_penalty     REAL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_sha256 ON documents(sha256);
CREATE INDEX IF NOT EXISTS idx_documents_url ON documents(url);

CREATE TABLE IF NOT EXISTS matches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id     INTEGER NOT NULL REFERENCES documents(id),
	method     TEXT NOT NULL,
	pattern    TEXT NOT NULL,
	score      REAL NOT NULL,
	snippet    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_matches_doc_id ON matches(doc_id);

CREATE VIRTUAL TABLE IF NOT EXISTS fts_docs USING fts5(
	doc_id UNINDEXED,
	url UNINDEXED,
	title,
	content,
	tokenize = 'unicode61'
);

CREATE TABLE IF NOT EXISTS doc_tables (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id      INTEGER NOT NULL REFERENCES documents(id),
	page_no     INTEGER NOT NULL,
	table_index INTEGER NOT NULL,
	format      TEXT NOT NULL,
	data_json   TEXT NOT NULL,
	bbox_json   TEXT,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_doc_tables_doc_id ON doc_tables(doc_id);

CREATE TABLE IF NOT EXISTS doc_entities (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id        INTEGER NOT NULL REFERENCES documents(id),
	label         TEXT NOT NULL,
	canonical     TEXT NOT NULL,
	display       TEXT NOT NULL,
	count         INTEGER NOT NULL,
	variants_json TEXT NOT NULL,
	page_nos_json TEXT,
	created_at    DATETIME NOT NULL,
	UNIQUE(doc_id, label, canonical)
);

CREATE INDEX IF NOT EXISTS idx_doc_entities_doc_id ON doc_entities(doc_id);

CREATE TABLE IF NOT EXISTS doc_embeddings (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id       INTEGER NOT NULL REFERENCES documents(id),
	chunk_index  INTEGER NOT NULL,
	start_offset INTEGER,
	end_offset   INTEGER,
	model_name   TEXT NOT NULL,
	vector       BLOB NOT NULL,
	norm         REAL NOT NULL,
	created_at   DATETIME NOT NULL,
	UNIQUE(doc_id, model_name, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_doc_embeddings_doc_id ON doc_embeddings(doc_id);
CREATE INDEX IF NOT EXISTS idx_doc_embeddings_model ON doc_embeddings(model_name);

CREATE TABLE IF NOT EXISTS doc_page_flags (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id       INTEGER NOT NULL REFERENCES documents(id),
	page_no      INTEGER NOT NULL,
	flag         TEXT NOT NULL,
	score        REAL NOT NULL,
	details_json TEXT,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_doc_page_flags_doc_id ON doc_page_flags(doc_id);
CREATE INDEX IF NOT EXISTS idx_doc_page_flags_flag ON doc_page_flags(flag);

CREATE TABLE IF NOT EXISTS doc_reviews (
	doc_id     INTEGER PRIMARY KEY REFERENCES documents(id),
	status     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_centroids (
	label      TEXT NOT NULL,
	model_name TEXT NOT NULL,
	vector     BLOB NOT NULL,
	norm       REAL NOT NULL,
	count      INTEGER NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY(label, model_name)
);

CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// docURLPredicate matches URLs whose path ends in a known document extension.
func docURLPredicate(column string) string {
	parts := make([]string, 0, len(urlutil.DownloadExts))
	for _, ext := range urlutil.DownloadExts {
		parts = append(parts, fmt.Sprintf("lower(%s) LIKE '%%%s'", column, ext))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (s *SQLiteStore) UpsertURLs(ctx context.Context, urls []string, status model.URLStatus, discoveredAt time.Time, preserveDone bool) error {
	var list []string
	for _, u := range urls {
		if u != "" {
			list = append(list, u)
		}
	}
	if len(list) == 0 {
		return nil
	}

	var query string
	if preserveDone {
		// Completed downloads keep their status, except document rows marked
		// done without a stored hash/path, which are always re-queued.
		query = `INSERT INTO urls(url, status, discovered_at) VALUES(?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET status = CASE
			WHEN urls.status = 'done' AND (NOT ` + docURLPredicate("urls.url") + `
				OR (COALESCE(urls.local_path,'') <> '' AND COALESCE(urls.sha256,'') <> ''))
			THEN 'done'
			ELSE excluded.status END`
	} else {
		query = `INSERT INTO urls(url, status, discovered_at) VALUES(?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET status = excluded.status, discovered_at = excluded.discovered_at`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert urls")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert urls")
	}
	defer stmt.Close()

	for _, u := range list {
		if _, err := stmt.ExecContext(ctx, u, string(status), discoveredAt.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: upsert url %s", u)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert urls")
}

func (s *SQLiteStore) RecordAttempt(ctx context.Context, url string, att model.URLAttempt) error {
	// Cached fields survive attempts that carry no new values, so a
	// processing mark or a 304 never wipes the validators and local copy
	// a later conditional GET depends on.
	res, err := s.db.ExecContext(ctx,
		`UPDATE urls SET status = ?, last_attempt_at = ?, http_status = ?, error = ?,
			content_type = COALESCE(?, content_type),
			title = COALESCE(?, title),
			final_url = COALESCE(?, final_url),
			local_path = COALESCE(?, local_path),
			sha256 = COALESCE(?, sha256),
			etag = COALESCE(?, etag),
			last_modified = COALESCE(?, last_modified)
		 WHERE url = ?`,
		string(att.Status), time.Now().UTC(), nullInt(att.HTTPStatus), nullStr(att.Error),
		nullStr(att.ContentType), nullStr(att.Title), nullStr(att.FinalURL),
		nullStr(att.LocalPath), nullStr(att.SHA256), nullStr(att.ETag), nullStr(att.LastModified),
		url,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record attempt %s", url)
	}
	return checkRowsAffected(res, "url", url)
}

func (s *SQLiteStore) NextBatch(ctx context.Context, limit int) ([]model.PendingURL, error) {
	if limit <= 0 {
		limit = 500
	}
	// Pages drain before documents so link discovery stays ahead of downloads.
	query := `SELECT url, content_type FROM urls WHERE status IN ('queued','retry')
		ORDER BY CASE WHEN ` + docURLPredicate("url") + ` THEN 1 ELSE 0 END ASC,
		discovered_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: next batch")
	}
	defer rows.Close()

	var out []model.PendingURL
	for rows.Next() {
		var p model.PendingURL
		var ct sql.NullString
		if err := rows.Scan(&p.URL, &ct); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending url")
		}
		p.ContentType = ct.String
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: next batch iterate")
}

// AbandonPending marks all queued/retry/processing rows abandoned. The rows
// stay in the table so a new run never silently resumes a stale queue.
func (s *SQLiteStore) AbandonPending(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE urls SET status = 'abandoned' WHERE status IN ('queued','retry','processing')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: abandon pending")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CacheHeaders(ctx context.Context, url string) (string, string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT etag, last_modified FROM urls WHERE url = ?`, url)

	var etag, lastModified sql.NullString
	err := row.Scan(&etag, &lastModified)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: cache headers")
	}
	return etag.String, lastModified.String, nil
}

func (s *SQLiteStore) CachedRecord(ctx context.Context, url string) (*model.CachedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT local_path, content_type, sha256, final_url, title FROM urls WHERE url = ?`,
		url,
	)

	var localPath, contentType, sha, finalURL, title sql.NullString
	err := row.Scan(&localPath, &contentType, &sha, &finalURL, &title)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cached record")
	}
	return &model.CachedRecord{
		URL:         url,
		LocalPath:   localPath.String,
		ContentType: contentType.String,
		SHA256:      sha.String,
		FinalURL:    finalURL.String,
		Title:       title.String,
	}, nil
}

func (s *SQLiteStore) URLDebug(ctx context.Context, url string) (*model.URLDebugInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status, http_status, error FROM urls WHERE url = ?`, url)

	var status string
	var httpStatus sql.NullInt64
	var errMsg sql.NullString
	err := row.Scan(&status, &httpStatus, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: url debug")
	}
	return &model.URLDebugInfo{
		Status:     model.URLStatus(status),
		HTTPStatus: int(httpStatus.Int64),
		Error:      errMsg.String,
	}, nil
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.URLStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM urls GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	out := make(map[model.URLStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		out[model.URLStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count iterate")
}

func (s *SQLiteStore) KnownDocumentURLs(ctx context.Context) ([]string, error) {
	query := `SELECT url FROM urls WHERE status <> 'abandoned' AND ` + docURLPredicate("url")
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: known document urls")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document url")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: known document urls iterate")
}

func (s *SQLiteStore) ReleaseSnapshotRows(ctx context.Context) ([]model.URLRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, status, http_status, content_type, title, final_url, local_path,
			sha256, etag, last_modified, last_attempt_at, discovered_at
		 FROM urls WHERE status <> 'abandoned'`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: release snapshot rows")
	}
	defer rows.Close()

	var out []model.URLRecord
	for rows.Next() {
		var r model.URLRecord
		var status string
		var httpStatus sql.NullInt64
		var contentType, title, finalURL, localPath, sha, etag, lastModified sql.NullString
		var lastAttempt sql.NullTime
		if err := rows.Scan(&r.URL, &status, &httpStatus, &contentType, &title, &finalURL,
			&localPath, &sha, &etag, &lastModified, &lastAttempt, &r.DiscoveredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot row")
		}
		r.Status = model.URLStatus(status)
		r.HTTPStatus = int(httpStatus.Int64)
		r.ContentType = contentType.String
		r.Title = title.String
		r.FinalURL = finalURL.String
		r.LocalPath = localPath.String
		r.SHA256 = sha.String
		r.ETag = etag.String
		r.LastModified = lastModified.String
		if lastAttempt.Valid {
			t := lastAttempt.Time
			r.LastAttemptAt = &t
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: release snapshot iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
