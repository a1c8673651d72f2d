package assessments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// PGRepo implements Repo using Postgres. The whole assessment is one row;
// sections, proposals, input files and the change log live in JSONB columns,
// and Save rewrites the full row (last write wins).
type PGRepo struct {
	DB *sql.DB
}

const assessmentColumns = `
	id, phase, model_name, skip_business_desc, report_name, company_name,
	head_html, body_prefix, business_desc, sections, proposals, input_files,
	changes, error_message, created_at, generated_at, finalized_at`

// Create inserts a new assessment.
func (r *PGRepo) Create(ctx context.Context, a Assessment) error {
	const query = `
INSERT INTO assessments (` + assessmentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	args, err := rowArgs(a)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query, args...)
	return err
}

// Save upserts the whole row.
func (r *PGRepo) Save(ctx context.Context, a Assessment) error {
	const query = `
INSERT INTO assessments (` + assessmentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
	phase = EXCLUDED.phase,
	model_name = EXCLUDED.model_name,
	skip_business_desc = EXCLUDED.skip_business_desc,
	report_name = EXCLUDED.report_name,
	company_name = EXCLUDED.company_name,
	head_html = EXCLUDED.head_html,
	body_prefix = EXCLUDED.body_prefix,
	business_desc = EXCLUDED.business_desc,
	sections = EXCLUDED.sections,
	proposals = EXCLUDED.proposals,
	input_files = EXCLUDED.input_files,
	changes = EXCLUDED.changes,
	error_message = EXCLUDED.error_message,
	generated_at = EXCLUDED.generated_at,
	finalized_at = EXCLUDED.finalized_at`
	args, err := rowArgs(a)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query, args...)
	return err
}

// GetByID loads one assessment.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Assessment, error) {
	const query = `SELECT ` + assessmentColumns + ` FROM assessments WHERE id = $1`
	return scanAssessment(r.DB.QueryRowContext(ctx, query, id))
}

// Delete removes one assessment.
func (r *PGRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM assessments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns assessments newest first.
func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}
	if offset > 0 {
		query += ` OFFSET ` + strconv.Itoa(offset)
	}
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Assessment{}
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func rowArgs(a Assessment) ([]any, error) {
	sections, err := json.Marshal(orEmptySections(a.Sections))
	if err != nil {
		return nil, fmt.Errorf("marshal sections: %w", err)
	}
	proposals, err := marshalProposals(a.Proposals)
	if err != nil {
		return nil, fmt.Errorf("marshal proposals: %w", err)
	}
	inputFiles, err := json.Marshal(orEmptyFiles(a.InputFiles))
	if err != nil {
		return nil, fmt.Errorf("marshal input files: %w", err)
	}
	var changes any
	if a.Changes != nil {
		raw, err := json.Marshal(a.Changes)
		if err != nil {
			return nil, fmt.Errorf("marshal changes: %w", err)
		}
		changes = raw
	}
	return []any{
		a.ID, a.Phase, a.ModelName, a.SkipBusinessDesc, a.ReportName, a.CompanyName,
		a.HeadHTML, a.BodyPrefix, a.BusinessDesc, sections, proposals, inputFiles,
		changes, a.ErrorMessage, a.CreatedAt, nullableTime(a.GeneratedAt), nullableTime(a.FinalizedAt),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (Assessment, error) {
	var (
		a          Assessment
		sections   []byte
		proposals  []byte
		inputFiles []byte
		changes    []byte
		generated  sql.NullTime
		finalized  sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Phase, &a.ModelName, &a.SkipBusinessDesc, &a.ReportName, &a.CompanyName,
		&a.HeadHTML, &a.BodyPrefix, &a.BusinessDesc, &sections, &proposals, &inputFiles,
		&changes, &a.ErrorMessage, &a.CreatedAt, &generated, &finalized,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Assessment{}, ErrNotFound
	}
	if err != nil {
		return Assessment{}, err
	}

	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &a.Sections); err != nil {
			return Assessment{}, fmt.Errorf("unmarshal sections: %w", err)
		}
	}
	if len(proposals) > 0 {
		if err := unmarshalProposals(proposals, &a.Proposals); err != nil {
			return Assessment{}, err
		}
	}
	if len(inputFiles) > 0 {
		if err := json.Unmarshal(inputFiles, &a.InputFiles); err != nil {
			return Assessment{}, fmt.Errorf("unmarshal input files: %w", err)
		}
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &a.Changes); err != nil {
			return Assessment{}, fmt.Errorf("unmarshal changes: %w", err)
		}
	}
	if generated.Valid {
		t := generated.Time.UTC()
		a.GeneratedAt = &t
	}
	if finalized.Valid {
		t := finalized.Time.UTC()
		a.FinalizedAt = &t
	}
	return a, nil
}

// JSON object keys are strings, so proposal indices round-trip through
// strconv.
func marshalProposals(p map[int]string) ([]byte, error) {
	m := make(map[string]string, len(p))
	for k, v := range p {
		m[strconv.Itoa(k)] = v
	}
	return json.Marshal(m)
}

func unmarshalProposals(raw []byte, out *map[int]string) error {
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("unmarshal proposals: %w", err)
	}
	if len(m) == 0 {
		return nil
	}
	*out = make(map[int]string, len(m))
	for k, v := range m {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("unmarshal proposals: bad index %q", k)
		}
		(*out)[idx] = v
	}
	return nil
}

func orEmptySections(s []Section) []Section {
	if s == nil {
		return []Section{}
	}
	return s
}

func orEmptyFiles(f []InputFile) []InputFile {
	if f == nil {
		return []InputFile{}
	}
	return f
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
