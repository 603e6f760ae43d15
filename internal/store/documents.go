package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

// UpsertDocument inserts a document or returns the existing id when the
// content hash is already known.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, d model.Document) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id FROM documents WHERE sha256 = ?`, d.SHA256)
	var id int64
	err := row.Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, eris.Wrap(err, "sqlite: lookup document by sha256")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(url, final_url, title, content_type, file_size, sha256, local_path, fetched_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		d.URL, d.FinalURL, nullStr(d.Title), nullStr(d.ContentType),
		sql.NullInt64{Int64: d.FileSize, Valid: d.FileSize > 0},
		d.SHA256, d.LocalPath, d.FetchedAt.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert document")
	}
	id, err = res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: document id")
}

func (s *SQLiteStore) GetDocument(ctx context.Context, docID int64) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, final_url, title, content_type, file_size, sha256, local_path, fetched_at,
			relevance_score, topic_similarity, entity_density, url_penalty
		 FROM documents WHERE id = ?`,
		docID,
	)

	var d model.Document
	var title, contentType sql.NullString
	var fileSize sql.NullInt64
	var relevance, topicSim, entityDensity, urlPenalty sql.NullFloat64
	err := row.Scan(&d.ID, &d.URL, &d.FinalURL, &title, &contentType, &fileSize,
		&d.SHA256, &d.LocalPath, &d.FetchedAt,
		&relevance, &topicSim, &entityDensity, &urlPenalty)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get document")
	}
	d.Title = title.String
	d.ContentType = contentType.String
	d.FileSize = fileSize.Int64
	d.RelevanceScore = floatPtr(relevance)
	d.TopicSim = floatPtr(topicSim)
	d.EntityDensity = floatPtr(entityDensity)
	d.URLPenalty = floatPtr(urlPenalty)
	return &d, nil
}

// DocumentIDBySHA256 looks up a document by content hash, 0 when absent.
func (s *SQLiteStore) DocumentIDBySHA256(ctx context.Context, sha256 string) (int64, error) {
	sha := strings.ToLower(strings.TrimSpace(sha256))
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM documents WHERE sha256 = ?`, sha).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: document by sha256")
	}
	return id, nil
}

// UpdateDocumentStorage fills in storage details, keeping existing values for
// any argument passed empty.
func (s *SQLiteStore) UpdateDocumentStorage(ctx context.Context, docID int64, localPath, title, contentType string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET
			local_path = COALESCE(NULLIF(?, ''), local_path),
			title = COALESCE(NULLIF(?, ''), title),
			content_type = COALESCE(NULLIF(?, ''), content_type)
		 WHERE id = ?`,
		localPath, title, contentType, docID,
	)
	return eris.Wrapf(err, "sqlite: update document storage %d", docID)
}

func (s *SQLiteStore) UpdateDocumentMetrics(ctx context.Context, docID int64, relevance, topicSim, entityDensity, urlPenalty *float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET relevance_score = ?, topic_similarity = ?, entity_density = ?, url_penalty = ? WHERE id = ?`,
		nullFloat(relevance), nullFloat(topicSim), nullFloat(entityDensity), nullFloat(urlPenalty), docID,
	)
	return eris.Wrapf(err, "sqlite: update document metrics %d", docID)
}

// UpdatePathsForSHA256 propagates a file move to every row sharing the hash.
func (s *SQLiteStore) UpdatePathsForSHA256(ctx context.Context, sha256, localPath string) error {
	sha := strings.ToLower(strings.TrimSpace(sha256))
	if sha == "" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin path update")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE documents SET local_path = ? WHERE sha256 = ?`, localPath, sha); err != nil {
		return eris.Wrap(err, "sqlite: update document paths")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE urls SET local_path = ? WHERE sha256 = ?`, localPath, sha); err != nil {
		return eris.Wrap(err, "sqlite: update url paths")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit path update")
}

// PurgeDerived removes indexed rows for a document so it can be reprocessed.
func (s *SQLiteStore) PurgeDerived(ctx context.Context, docID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin purge")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM matches WHERE doc_id = ?`,
		`DELETE FROM doc_tables WHERE doc_id = ?`,
		`DELETE FROM doc_entities WHERE doc_id = ?`,
		`DELETE FROM doc_embeddings WHERE doc_id = ?`,
		`DELETE FROM doc_page_flags WHERE doc_id = ?`,
		`DELETE FROM fts_docs WHERE doc_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, docID); err != nil {
			return eris.Wrapf(err, "sqlite: purge derived %d", docID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit purge")
}

func (s *SQLiteStore) DocumentStats(ctx context.Context) (model.DocumentStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(DISTINCT doc_id) FROM matches),
			(SELECT COUNT(*) FROM documents WHERE relevance_score IS NOT NULL),
			(SELECT COALESCE(SUM(file_size), 0) FROM documents)`,
	)

	var st model.DocumentStats
	if err := row.Scan(&st.Total, &st.Matched, &st.Scored, &st.TotalBytes); err != nil {
		return model.DocumentStats{}, eris.Wrap(err, "sqlite: document stats")
	}
	return st, nil
}

func (s *SQLiteStore) AllDocumentIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY id ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: all document ids")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document id")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: document ids iterate")
}

// ClearResults drops all extracted content and derived rows. Frontier history,
// feedback centroids, and files on disk are untouched.
func (s *SQLiteStore) ClearResults(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin clear results")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM matches`,
		`DELETE FROM documents`,
		`DELETE FROM fts_docs`,
		`DELETE FROM doc_tables`,
		`DELETE FROM doc_entities`,
		`DELETE FROM doc_embeddings`,
		`DELETE FROM doc_page_flags`,
		`DELETE FROM doc_reviews`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "sqlite: clear results")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit clear results")
}

func (s *SQLiteStore) AddMatches(ctx context.Context, docID int64, hits []model.MatchHit) error {
	if len(hits) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add matches")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO matches(doc_id, method, pattern, score, snippet, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare add matches")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, h := range hits {
		if _, err := stmt.ExecContext(ctx, docID, string(h.Method), h.Pattern, h.Score, h.Snippet, now); err != nil {
			return eris.Wrap(err, "sqlite: insert match")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit add matches")
}

func (s *SQLiteStore) MatchesForDoc(ctx context.Context, docID int64) ([]model.MatchHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT method, pattern, score, snippet FROM matches WHERE doc_id = ? ORDER BY score DESC`,
		docID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: matches for doc")
	}
	defer rows.Close()

	var out []model.MatchHit
	for rows.Next() {
		h := model.MatchHit{DocID: docID}
		var method string
		if err := rows.Scan(&method, &h.Pattern, &h.Score, &h.Snippet); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match")
		}
		h.Method = model.MatchMethod(method)
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: matches iterate")
}

func (s *SQLiteStore) AddEntities(ctx context.Context, docID int64, entities []model.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add entities")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO doc_entities(doc_id, label, canonical, display, count, variants_json, page_nos_json, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id, label, canonical) DO UPDATE SET
			display = excluded.display, count = excluded.count,
			variants_json = excluded.variants_json, page_nos_json = excluded.page_nos_json,
			created_at = excluded.created_at`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare add entities")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entities {
		if e.Label == "" || e.Canonical == "" {
			continue
		}
		display := e.Display
		if display == "" {
			display = e.Canonical
		}
		count := e.Count
		if count < 1 {
			count = 1
		}
		variants := e.Variants
		if len(variants) == 0 {
			variants = []string{display}
		}
		variantsJSON, err := json.Marshal(dedupeSorted(variants))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal variants")
		}
		var pageNosJSON sql.NullString
		if len(e.PageNos) > 0 {
			b, err := json.Marshal(dedupeSortedInts(e.PageNos))
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal page nos")
			}
			pageNosJSON = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, docID, e.Label, e.Canonical, display, count,
			string(variantsJSON), pageNosJSON, now); err != nil {
			return eris.Wrap(err, "sqlite: insert entity")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit add entities")
}

func (s *SQLiteStore) EntitiesForDoc(ctx context.Context, docID int64) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, canonical, display, count, variants_json, page_nos_json
		 FROM doc_entities WHERE doc_id = ? ORDER BY label ASC, count DESC, display ASC`,
		docID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: entities for doc")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e := model.Entity{DocID: docID}
		var variantsJSON string
		var pageNosJSON sql.NullString
		if err := rows.Scan(&e.Label, &e.Canonical, &e.Display, &e.Count, &variantsJSON, &pageNosJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		if err := json.Unmarshal([]byte(variantsJSON), &e.Variants); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal variants")
		}
		if pageNosJSON.Valid {
			if err := json.Unmarshal([]byte(pageNosJSON.String), &e.PageNos); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal page nos")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: entities iterate")
}

func (s *SQLiteStore) AddTables(ctx context.Context, docID int64, tables []model.DocTable) error {
	if len(tables) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add tables")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO doc_tables(doc_id, page_no, table_index, format, data_json, bbox_json, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare add tables")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, t := range tables {
		format := t.Format
		if format == "" {
			format = "rows"
		}
		dataJSON, err := json.Marshal(t.Data)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal table data")
		}
		var bboxJSON sql.NullString
		if len(t.BBox) > 0 {
			b, err := json.Marshal(t.BBox)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal bbox")
			}
			bboxJSON = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, docID, t.PageNo, t.TableIndex, format,
			string(dataJSON), bboxJSON, now); err != nil {
			return eris.Wrap(err, "sqlite: insert table")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit add tables")
}

func (s *SQLiteStore) TablesForDoc(ctx context.Context, docID int64) ([]model.DocTable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_no, table_index, format, data_json, bbox_json
		 FROM doc_tables WHERE doc_id = ? ORDER BY page_no ASC, table_index ASC`,
		docID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: tables for doc")
	}
	defer rows.Close()

	var out []model.DocTable
	for rows.Next() {
		t := model.DocTable{DocID: docID}
		var dataJSON string
		var bboxJSON sql.NullString
		if err := rows.Scan(&t.PageNo, &t.TableIndex, &t.Format, &dataJSON, &bboxJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan table")
		}
		if err := json.Unmarshal([]byte(dataJSON), &t.Data); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal table data")
		}
		if bboxJSON.Valid {
			if err := json.Unmarshal([]byte(bboxJSON.String), &t.BBox); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal bbox")
			}
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: tables iterate")
}

func (s *SQLiteStore) AddPageFlags(ctx context.Context, docID int64, flags []model.PageFlag) error {
	if len(flags) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add page flags")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO doc_page_flags(doc_id, page_no, flag, score, details_json, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare add page flags")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, f := range flags {
		if f.PageNo <= 0 || f.Flag == "" {
			continue
		}
		var detailsJSON sql.NullString
		if len(f.Details) > 0 {
			b, err := json.Marshal(f.Details)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal flag details")
			}
			detailsJSON = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, docID, f.PageNo, f.Flag, f.Score, detailsJSON, now); err != nil {
			return eris.Wrap(err, "sqlite: insert page flag")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit add page flags")
}

func (s *SQLiteStore) PageFlagsForDoc(ctx context.Context, docID int64, flag string) ([]model.PageFlag, error) {
	query := `SELECT page_no, flag, score, details_json FROM doc_page_flags WHERE doc_id = ?`
	args := []any{docID}
	if flag != "" {
		query += ` AND flag = ?`
		args = append(args, flag)
	}
	query += ` ORDER BY score DESC, page_no ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: page flags for doc")
	}
	defer rows.Close()

	var out []model.PageFlag
	for rows.Next() {
		f := model.PageFlag{DocID: docID}
		var detailsJSON sql.NullString
		if err := rows.Scan(&f.PageNo, &f.Flag, &f.Score, &detailsJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan page flag")
		}
		if detailsJSON.Valid {
			if err := json.Unmarshal([]byte(detailsJSON.String), &f.Details); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal flag details")
			}
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: page flags iterate")
}

func (s *SQLiteStore) RedactionMaxMap(ctx context.Context, docIDs []int64) (map[int64]float64, error) {
	ids := positiveIDs(docIDs)
	if len(ids) == 0 {
		return map[int64]float64{}, nil
	}
	query := `SELECT doc_id, MAX(score) FROM doc_page_flags WHERE flag = 'redaction' AND doc_id IN (` +
		placeholders(len(ids)) + `) GROUP BY doc_id`

	rows, err := s.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: redaction max map")
	}
	defer rows.Close()

	out := make(map[int64]float64)
	for rows.Next() {
		var id int64
		var score sql.NullFloat64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan redaction max")
		}
		if score.Valid {
			out[id] = score.Float64
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: redaction max iterate")
}

// SetReviewStatus records a triage label. ReviewNew deletes the row since
// absence implies new.
func (s *SQLiteStore) SetReviewStatus(ctx context.Context, docID int64, status model.ReviewStatus) error {
	if !model.ValidReviewStatus(status) {
		status = model.ReviewNew
	}
	if status == model.ReviewNew {
		_, err := s.db.ExecContext(ctx, `DELETE FROM doc_reviews WHERE doc_id = ?`, docID)
		return eris.Wrapf(err, "sqlite: clear review %d", docID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO doc_reviews(doc_id, status, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		docID, string(status), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set review %d", docID)
}

func (s *SQLiteStore) GetReviewStatus(ctx context.Context, docID int64) (model.ReviewStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status FROM doc_reviews WHERE doc_id = ?`, docID)
	var status string
	err := row.Scan(&status)
	if err == sql.ErrNoRows {
		return model.ReviewNew, nil
	}
	if err != nil {
		return model.ReviewNew, eris.Wrap(err, "sqlite: get review status")
	}
	return model.ReviewStatus(status), nil
}

func (s *SQLiteStore) ReviewStatusMap(ctx context.Context, docIDs []int64) (map[int64]model.ReviewStatus, error) {
	ids := positiveIDs(docIDs)
	if len(ids) == 0 {
		return map[int64]model.ReviewStatus{}, nil
	}
	query := `SELECT doc_id, status FROM doc_reviews WHERE doc_id IN (` + placeholders(len(ids)) + `)`

	rows, err := s.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: review status map")
	}
	defer rows.Close()

	out := make(map[int64]model.ReviewStatus)
	for rows.Next() {
		var id int64
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review status")
		}
		out[id] = model.ReviewStatus(status)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: review status iterate")
}

// CountReviews tallies matched documents by review label. Documents without
// a review row count as new.
func (s *SQLiteStore) CountReviews(ctx context.Context) (map[model.ReviewStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(r.status, 'new') AS label, COUNT(DISTINCT d.id)
		 FROM documents d
		 JOIN matches m ON m.doc_id = d.id
		 LEFT JOIN doc_reviews r ON r.doc_id = d.id
		 GROUP BY label`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count reviews")
	}
	defer rows.Close()

	out := make(map[model.ReviewStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review count")
		}
		out[model.ReviewStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count reviews iterate")
}

// FlaggedDocs lists matched documents newest-first with scoring metrics and
// review state joined in.
func (s *SQLiteStore) FlaggedDocs(ctx context.Context, limit int) ([]model.TriageRow, error) {
	if limit <= 0 {
		limit = 5000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.url, d.title, d.local_path, d.fetched_at, COUNT(m.id) AS match_count,
			d.relevance_score, d.topic_similarity, d.entity_density, d.url_penalty,
			COALESCE(r.status, 'new') AS review_status
		 FROM documents d
		 JOIN matches m ON m.doc_id = d.id
		 LEFT JOIN doc_reviews r ON r.doc_id = d.id
		 GROUP BY d.id ORDER BY d.fetched_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: flagged docs")
	}
	defer rows.Close()

	var out []model.TriageRow
	for rows.Next() {
		var t model.TriageRow
		var title, localPath sql.NullString
		var fetchedAt time.Time
		var relevance, topicSim, entityDensity, urlPenalty sql.NullFloat64
		var reviewStatus string
		if err := rows.Scan(&t.DocID, &t.URL, &title, &localPath, &fetchedAt, &t.MatchCount,
			&relevance, &topicSim, &entityDensity, &urlPenalty, &reviewStatus); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan flagged doc")
		}
		t.Title = title.String
		t.LocalPath = localPath.String
		t.FetchedAt = fetchedAt.UTC().Format(time.RFC3339)
		t.RelevanceScore = floatPtr(relevance)
		t.TopicSim = floatPtr(topicSim)
		t.EntityDensity = floatPtr(entityDensity)
		t.URLPenalty = floatPtr(urlPenalty)
		t.ReviewStatus = model.ReviewStatus(reviewStatus)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: flagged docs iterate")
}

// helpers

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func positiveIDs(ids []int64) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			out = append(out, id)
		}
	}
	return out
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func dedupeSortedInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, n := range in {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
