package clinical

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"carebase/pkg/domain"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/platform/tx"
)

// PostgresDocuments keeps one kind of document in clinical_documents.
type PostgresDocuments[T any] struct {
	db   *sql.DB
	kind string
}

func NewPostgresDocuments[T any](db *sql.DB, kind string) *PostgresDocuments[T] {
	return &PostgresDocuments[T]{db: db, kind: kind}
}

func NewPostgresStores(db *sql.DB) Stores {
	return Stores{
		Clients:     NewPostgresDocuments[Client](db, StreamClient),
		Medications: NewPostgresDocuments[Medication](db, StreamMedication),
		Histories:   NewPostgresDocuments[MedicationHistory](db, StreamMedicationHistory),
		Dosages:     NewPostgresDocuments[Dosage](db, StreamDosage),
	}
}

func (p *PostgresDocuments[T]) Insert(ctx context.Context, id uuid.UUID, orgID domain.OrganizationID, doc T) (bool, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", p.kind, err)
	}
	res, err := tx.Executor(ctx, p.db).ExecContext(ctx, `
		INSERT INTO clinical_documents (kind, id, organization_id, doc, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (kind, id) DO NOTHING
	`, p.kind, id, uuid.UUID(orgID), raw)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", p.kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (p *PostgresDocuments[T]) Get(ctx context.Context, id uuid.UUID) (T, error) {
	var (
		doc T
		raw []byte
	)
	err := tx.Executor(ctx, p.db).QueryRowContext(ctx,
		`SELECT doc FROM clinical_documents WHERE kind = $1 AND id = $2`, p.kind, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, sentinel.ErrNotFound
	}
	if err != nil {
		return doc, fmt.Errorf("get %s: %w", p.kind, err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("decode %s: %w", p.kind, err)
	}
	return doc, nil
}

func (p *PostgresDocuments[T]) Update(ctx context.Context, id uuid.UUID, doc T) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.kind, err)
	}
	res, err := tx.Executor(ctx, p.db).ExecContext(ctx, `
		UPDATE clinical_documents SET doc = $3, updated_at = now()
		WHERE kind = $1 AND id = $2
	`, p.kind, id, raw)
	if err != nil {
		return fmt.Errorf("update %s: %w", p.kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *PostgresDocuments[T]) ListWhere(ctx context.Context, field, value string) ([]T, error) {
	return p.list(ctx, `
		SELECT doc FROM clinical_documents
		WHERE kind = $1 AND doc ->> $2 = $3
		ORDER BY created_seq
	`, p.kind, field, value)
}

func (p *PostgresDocuments[T]) ListContainingAny(ctx context.Context, field string, values []string) ([]T, error) {
	return p.list(ctx, `
		SELECT doc FROM clinical_documents
		WHERE kind = $1 AND jsonb_exists_any(doc -> $2, $3)
		ORDER BY created_seq
	`, p.kind, field, pq.Array(values))
}

func (p *PostgresDocuments[T]) list(ctx context.Context, query string, args ...any) ([]T, error) {
	rows, err := tx.Executor(ctx, p.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p.kind, err)
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.kind, err)
		}
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p.kind, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}
