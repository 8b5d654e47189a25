package repositories

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/turtacn/Opposition-Intelligence/internal/application/ingestion"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// CaseRepo stores case records in case_records and their chunks in
// case_chunks.
type CaseRepo struct {
	conn *postgres.Connection
	log  logging.Logger
}

var _ ingestion.CaseRepository = (*CaseRepo)(nil)

func NewCaseRepo(conn *postgres.Connection, log logging.Logger) *CaseRepo {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &CaseRepo{conn: conn, log: log}
}

const upsertCaseSQL = `
INSERT INTO case_records (
	case_reference, document_id, source_bucket, source_object, processed_object,
	processing_state, generation, page_count, chunk_count, fields, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
ON CONFLICT (case_reference) DO UPDATE SET
	document_id      = EXCLUDED.document_id,
	source_bucket    = EXCLUDED.source_bucket,
	source_object    = EXCLUDED.source_object,
	processed_object = EXCLUDED.processed_object,
	processing_state = EXCLUDED.processing_state,
	generation       = EXCLUDED.generation,
	page_count       = EXCLUDED.page_count,
	chunk_count      = EXCLUDED.chunk_count,
	fields           = EXCLUDED.fields,
	updated_at       = NOW()
RETURNING created_at, updated_at`

// SaveCase upserts the record and replaces all of its chunk rows in one
// transaction.
func (r *CaseRepo) SaveCase(ctx context.Context, rec *trademark.CaseRecord, chunks []trademark.Chunk) error {
	if rec == nil || rec.CaseReference == "" {
		return errors.InvalidInput("case record without reference")
	}
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "serialise case fields")
	}

	err = postgres.WithTransaction(ctx, r.conn.Pool(), func(tx pgx.Tx, ctx context.Context) error {
		row := tx.QueryRow(ctx, upsertCaseSQL,
			rec.CaseReference, rec.DocumentID, rec.SourceBucket, rec.SourceObject, rec.ProcessedObject,
			string(rec.State), rec.Generation, rec.PageCount, rec.ChunkCount, fields,
		)
		if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "upsert case record")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM case_chunks WHERE case_reference = $1`, rec.CaseReference); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "delete case chunks")
		}
		if len(chunks) == 0 {
			return nil
		}
		rows := make([][]any, len(chunks))
		for i, c := range chunks {
			rows[i] = []any{rec.CaseReference, c.ChunkSequenceID, c.SourceSection, c.PageNumber, c.Text}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"case_chunks"},
			[]string{"case_reference", "chunk_sequence_id", "source_section", "page_number", "text"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "insert case chunks")
		}
		return nil
	})
	if err != nil {
		return errors.Propagate(err, errors.ErrCodeDatabaseError, "save case")
	}

	r.log.Debug("case saved",
		logging.String("case_reference", rec.CaseReference),
		logging.Int("chunks", len(chunks)),
		logging.Int64("generation", rec.Generation),
	)
	return nil
}

func (r *CaseRepo) UpdateState(ctx context.Context, caseRef string, state trademark.ProcessingState) error {
	tag, err := r.conn.Pool().Exec(ctx,
		`UPDATE case_records SET processing_state = $2, updated_at = NOW() WHERE case_reference = $1`,
		caseRef, string(state),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "update case state")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeCaseNotFound, "case %s not found", caseRef)
	}
	return nil
}

func (r *CaseRepo) GetCase(ctx context.Context, caseRef string) (*trademark.CaseRecord, error) {
	row := r.conn.Pool().QueryRow(ctx, `
		SELECT case_reference, document_id, source_bucket, source_object, processed_object,
		       processing_state, generation, page_count, chunk_count, fields, created_at, updated_at
		FROM case_records WHERE case_reference = $1`, caseRef)

	rec, err := scanCase(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Newf(errors.ErrCodeCaseNotFound, "case %s not found", caseRef)
	}
	if err != nil {
		return nil, errors.Propagate(err, errors.ErrCodeDatabaseError, "get case")
	}
	return rec, nil
}

func (r *CaseRepo) GetChunk(ctx context.Context, caseRef string, seq int) (*trademark.Chunk, error) {
	row := r.conn.Pool().QueryRow(ctx, `
		SELECT case_reference, source_section, page_number, chunk_sequence_id, text
		FROM case_chunks WHERE case_reference = $1 AND chunk_sequence_id = $2`, caseRef, seq)

	c, err := scanChunk(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Newf(errors.ErrCodeNotFound, "chunk %s#%d not found", caseRef, seq)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "get chunk")
	}
	return &c, nil
}

func (r *CaseRepo) ListChunks(ctx context.Context, caseRef string) ([]trademark.Chunk, error) {
	return listChunks(ctx, r.conn.Pool(), caseRef)
}

// ListCases returns case references in state, most recently updated first.
// An empty state lists every case.
func (r *CaseRepo) ListCases(ctx context.Context, state trademark.ProcessingState, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT case_reference FROM case_records
		WHERE $1 = '' OR processing_state = $1
		ORDER BY updated_at DESC, case_reference
		LIMIT $2`, string(state), limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "list cases")
	}
	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "list cases")
	}
	return refs, nil
}

func listChunks(ctx context.Context, q queryExecutor, caseRef string) ([]trademark.Chunk, error) {
	rows, err := q.Query(ctx, `
		SELECT case_reference, source_section, page_number, chunk_sequence_id, text
		FROM case_chunks WHERE case_reference = $1
		ORDER BY chunk_sequence_id`, caseRef)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "list chunks")
	}
	defer rows.Close()

	var out []trademark.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "scan chunk")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "list chunks")
	}
	return out, nil
}

func scanCase(s scanner) (*trademark.CaseRecord, error) {
	var (
		rec    trademark.CaseRecord
		state  string
		fields []byte
	)
	err := s.Scan(
		&rec.CaseReference, &rec.DocumentID, &rec.SourceBucket, &rec.SourceObject, &rec.ProcessedObject,
		&state, &rec.Generation, &rec.PageCount, &rec.ChunkCount, &fields, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.State = trademark.ProcessingState(state)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "corrupt case fields")
		}
	}
	return &rec, nil
}

func scanChunk(s scanner) (trademark.Chunk, error) {
	var c trademark.Chunk
	err := s.Scan(&c.CaseReference, &c.SourceSection, &c.PageNumber, &c.ChunkSequenceID, &c.Text)
	return c, err
}
