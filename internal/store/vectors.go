package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

func (s *SQLiteStore) AddEmbeddings(ctx context.Context, docID int64, chunks []model.EmbeddingChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add embeddings")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO doc_embeddings(doc_id, chunk_index, start_offset, end_offset, model_name, vector, norm, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id, model_name, chunk_index) DO UPDATE SET
			start_offset = excluded.start_offset, end_offset = excluded.end_offset,
			vector = excluded.vector, norm = excluded.norm, created_at = excluded.created_at`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare add embeddings")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		if c.ModelName == "" || len(c.Vector) == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, docID, c.ChunkIndex, c.StartOffset, c.EndOffset,
			c.ModelName, c.Vector, c.Norm, now); err != nil {
			return eris.Wrap(err, "sqlite: insert embedding")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit add embeddings")
}

func (s *SQLiteStore) EmbeddingsForDoc(ctx context.Context, docID int64, modelName string) ([]model.EmbeddingChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, start_offset, end_offset, vector, norm
		 FROM doc_embeddings WHERE doc_id = ? AND model_name = ? ORDER BY chunk_index ASC`,
		docID, modelName,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: embeddings for doc")
	}
	defer rows.Close()

	var out []model.EmbeddingChunk
	for rows.Next() {
		c := model.EmbeddingChunk{DocID: docID, ModelName: modelName}
		var start, end sql.NullInt64
		if err := rows.Scan(&c.ChunkIndex, &start, &end, &c.Vector, &c.Norm); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan embedding")
		}
		c.StartOffset = int(start.Int64)
		c.EndOffset = int(end.Int64)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: embeddings iterate")
}

func (s *SQLiteStore) FeedbackCentroid(ctx context.Context, label, modelName string) (*model.FeedbackCentroid, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT vector, norm, count FROM feedback_centroids WHERE label = ? AND model_name = ?`,
		label, modelName,
	)

	c := model.FeedbackCentroid{Label: label, ModelName: modelName}
	err := row.Scan(&c.Vector, &c.Norm, &c.Count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: feedback centroid")
	}
	return &c, nil
}

func (s *SQLiteStore) SetFeedbackCentroid(ctx context.Context, c model.FeedbackCentroid) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_centroids(label, model_name, vector, norm, count, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(label, model_name) DO UPDATE SET
			vector = excluded.vector, norm = excluded.norm, count = excluded.count,
			updated_at = excluded.updated_at`,
		c.Label, c.ModelName, c.Vector, c.Norm, c.Count, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set feedback centroid %s", c.Label)
}
