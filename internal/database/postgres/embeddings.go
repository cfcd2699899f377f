package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingRepository provides PostgreSQL-backed face embedding storage.
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository.
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// GetAllActiveEmbeddings loads every enroll embedding plus the newest update
// embeddings of each active employee.
func (r *EmbeddingRepository) GetAllActiveEmbeddings(ctx context.Context) (database.ActiveEmbeddings, error) {
	query := `
		SELECT employee_id, embedding FROM (
			SELECT fe.employee_id, fe.embedding, fe.embedding_type,
			       ROW_NUMBER() OVER (
			           PARTITION BY fe.employee_id, fe.embedding_type
			           ORDER BY fe.created_at DESC, fe.id DESC
			       ) AS rn
			FROM face_embeddings fe
			JOIN employees e ON e.id = fe.employee_id
			WHERE fe.is_active AND e.is_active
		) ranked
		WHERE embedding_type = 'enroll' OR rn <= $1
		ORDER BY employee_id
	`

	rows, err := r.pool.Query(ctx, query, database.RecentUpdatesPerEmployee)
	if err != nil {
		return database.ActiveEmbeddings{}, fmt.Errorf("query active embeddings: %w", err)
	}
	defer rows.Close()

	var out database.ActiveEmbeddings
	for rows.Next() {
		var label string
		var vec pgvector.Vector
		if err := rows.Scan(&label, &vec); err != nil {
			return database.ActiveEmbeddings{}, fmt.Errorf("scan embedding: %w", err)
		}
		out.Vectors = append(out.Vectors, vec.Slice())
		out.Labels = append(out.Labels, label)
	}
	if err := rows.Err(); err != nil {
		return database.ActiveEmbeddings{}, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// CountEmbeddings returns the number of active embeddings for an employee.
func (r *EmbeddingRepository) CountEmbeddings(ctx context.Context, employeeID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM face_embeddings WHERE employee_id = $1 AND is_active",
		employeeID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// StoreEmbedding inserts one embedding. An unknown employee yields database.ErrNotFound.
func (r *EmbeddingRepository) StoreEmbedding(ctx context.Context, emb database.StoredEmbedding) (int64, error) {
	if emb.Type == "" {
		emb.Type = database.EmbeddingEnroll
	}

	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO face_embeddings (employee_id, embedding, embedding_type, quality_score, source_image_path)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, emb.EmployeeID, pgvector.NewVector(emb.Embedding), string(emb.Type), emb.Quality, emb.SourceImage).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("employee %s: %w", emb.EmployeeID, database.ErrNotFound)
		}
		return 0, fmt.Errorf("insert embedding: %w", err)
	}
	return id, nil
}

// CleanupOldEmbeddings deletes update embeddings beyond the newest keepN.
func (r *EmbeddingRepository) CleanupOldEmbeddings(ctx context.Context, employeeID string, keepN int) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM face_embeddings
		WHERE employee_id = $1 AND embedding_type = 'update' AND id NOT IN (
			SELECT id FROM face_embeddings
			WHERE employee_id = $1 AND embedding_type = 'update'
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)
	`, employeeID, keepN)
	if err != nil {
		return 0, fmt.Errorf("cleanup embeddings: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ReplaceEnrollEmbeddings archives the active enroll embeddings of an employee
// and inserts embs as the new enroll set in one transaction.
func (r *EmbeddingRepository) ReplaceEnrollEmbeddings(ctx context.Context, employeeID string, embs []database.StoredEmbedding) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE face_embeddings SET is_active = FALSE
		WHERE employee_id = $1 AND is_active AND embedding_type = 'enroll'
	`, employeeID)
	if err != nil {
		return 0, fmt.Errorf("archive enroll embeddings: %w", err)
	}
	archived, _ := result.RowsAffected()

	for _, emb := range embs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO face_embeddings (employee_id, embedding, embedding_type, quality_score, source_image_path)
			VALUES ($1, $2, 'enroll', $3, $4)
		`, employeeID, pgvector.NewVector(emb.Embedding), emb.Quality, emb.SourceImage)
		if err != nil {
			if isForeignKeyViolation(err) {
				return 0, fmt.Errorf("employee %s: %w", employeeID, database.ErrNotFound)
			}
			return 0, fmt.Errorf("insert enroll embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return archived, nil
}

// ArchiveEmbeddings deactivates embeddings of an employee. An empty type archives all.
func (r *EmbeddingRepository) ArchiveEmbeddings(ctx context.Context, employeeID string, typ database.EmbeddingType) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE face_embeddings SET is_active = FALSE
		WHERE employee_id = $1 AND is_active AND ($2::text = '' OR embedding_type = $2::text)
	`, employeeID, string(typ))
	if err != nil {
		return 0, fmt.Errorf("archive embeddings: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteEmbeddings removes all embeddings of an employee.
func (r *EmbeddingRepository) DeleteEmbeddings(ctx context.Context, employeeID string) (int64, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM face_embeddings WHERE employee_id = $1", employeeID)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
