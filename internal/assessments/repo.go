package assessments

import "context"

// Repo defines persistence for assessments. Save is a whole-row upsert with
// last-write-wins semantics; the service layer serializes writers per
// assessment.
type Repo interface {
	Create(ctx context.Context, a Assessment) error
	GetByID(ctx context.Context, id string) (Assessment, error)
	Save(ctx context.Context, a Assessment) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]Assessment, error)
}
