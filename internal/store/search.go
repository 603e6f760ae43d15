package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

func (s *SQLiteStore) AddFTSContent(ctx context.Context, docID int64, url, title, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fts_docs(doc_id, url, title, content) VALUES(?, ?, ?, ?)`,
		docID, url, title, content,
	)
	return eris.Wrapf(err, "sqlite: add fts content %d", docID)
}

func (s *SQLiteStore) FTSContent(ctx context.Context, docID int64) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT content FROM fts_docs WHERE doc_id = ?`, docID)
	var content sql.NullString
	err := row.Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "sqlite: fts content")
	}
	return content.String, nil
}

// SearchFTS runs an FTS5 MATCH query ranked by BM25 (lower is better). A
// query the MATCH parser rejects falls back to a plain LIKE scan.
func (s *SQLiteStore) SearchFTS(ctx context.Context, query string, limit int) ([]FTSResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, url, title, bm25(fts_docs) AS bm25 FROM fts_docs
		 WHERE fts_docs MATCH ? ORDER BY bm25 ASC LIMIT ?`,
		q, limit,
	)
	if err != nil {
		zap.L().Debug("fts match failed, falling back to LIKE",
			zap.String("query", q), zap.Error(err))
		return s.searchLike(ctx, q, limit)
	}
	defer rows.Close()

	out, err := scanFTSResults(rows)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) searchLike(ctx context.Context, q string, limit int) ([]FTSResult, error) {
	like := "%" + q + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, url, title, 0.0 AS bm25 FROM fts_docs
		 WHERE title LIKE ? OR content LIKE ? LIMIT ?`,
		like, like, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: like search")
	}
	defer rows.Close()

	return scanFTSResults(rows)
}

func scanFTSResults(rows *sql.Rows) ([]FTSResult, error) {
	var out []FTSResult
	for rows.Next() {
		var r FTSResult
		var title sql.NullString
		var bm25 sql.NullFloat64
		if err := rows.Scan(&r.DocID, &r.URL, &title, &bm25); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fts result")
		}
		r.Title = title.String
		r.BM25 = bm25.Float64
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: fts iterate")
}
