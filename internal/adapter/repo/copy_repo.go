package repo

import (
	"context"
	"fmt"

	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/sqlinline"
)

// CopyRepositoryPG persists per-copy outcomes in generation_copies.
type CopyRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewCopyRepository creates a repository backed by PostgreSQL.
func NewCopyRepository(sql infra.SQLExecutor) *CopyRepositoryPG {
	return &CopyRepositoryPG{sql: sql}
}

// CopyRow is one stored copy.
type CopyRow struct {
	JobID       string
	Scene       int
	Copy        int
	Account     string
	Model       string
	Operation   string
	Status      domain.Status
	ArtifactURL string
	LocalPath   string
}

// RecordCopy upserts copy index of job under batchID.
func (r *CopyRepositoryPG) RecordCopy(ctx context.Context, batchID string, job *domain.Job, index int) error {
	c, err := job.Copy(index)
	if err != nil {
		return err
	}
	account := c.Handle.Account
	if account == "" {
		account = job.Account
	}
	var kind, message string
	if c.Err != nil {
		kind = string(c.Err.Kind)
		message = c.Err.Error()
	}
	_, err = r.sql.Exec(ctx, sqlinline.QUpsertGenerationCopy,
		batchID,
		job.ID,
		job.Scene,
		c.Index,
		account,
		job.Model,
		c.Handle.Operation,
		string(c.Status),
		c.ArtifactURL,
		c.LocalPath,
		c.ThumbnailPath,
		kind,
		message,
	)
	if err != nil {
		return fmt.Errorf("repo: record copy %s/%d: %w", job.ID, index, err)
	}
	return nil
}

// ListByStatus returns the copies of batchID currently in status.
func (r *CopyRepositoryPG) ListByStatus(ctx context.Context, batchID string, status domain.Status) ([]CopyRow, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectCopiesByStatus, batchID, string(status))
	if err != nil {
		return nil, fmt.Errorf("repo: list copies: %w", err)
	}
	defer rows.Close()

	var out []CopyRow
	for rows.Next() {
		var row CopyRow
		var st string
		if err := rows.Scan(&row.JobID, &row.Scene, &row.Copy, &row.Account, &row.Model, &row.Operation, &st, &row.ArtifactURL, &row.LocalPath); err != nil {
			return nil, fmt.Errorf("repo: scan copy: %w", err)
		}
		row.Status = domain.Status(st)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: iterate copies: %w", err)
	}
	return out, nil
}
