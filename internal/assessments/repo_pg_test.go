package assessments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

var pgColumns = []string{
	"id", "phase", "model_name", "skip_business_desc", "report_name", "company_name",
	"head_html", "body_prefix", "business_desc", "sections", "proposals", "input_files",
	"changes", "error_message", "created_at", "generated_at", "finalized_at",
}

func pgTestAssessment() Assessment {
	gen := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	return Assessment{
		ID:          "a-1",
		Phase:       PhaseReview,
		ModelName:   "report-model",
		ReportName:  "Acme Assessment",
		CompanyName: "Acme Trading",
		HeadHTML:    "<head><style>p{}</style></head>",
		Sections: []Section{
			{ID: "s1", Title: "Liquidity", OriginalHTML: "<h2>Liquidity</h2>", HTML: "<h2>Liquidity</h2>", Status: StatusPending},
		},
		Proposals:  map[int]string{0: "<h2>Liquidity</h2><p>revised</p>"},
		InputFiles: []InputFile{{FileName: "r.xlsx", StorageKey: "a-1/r.xlsx", Kind: FileKindRatios}},
		CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		GeneratedAt: &gen,
	}
}

func TestPGRepoSaveUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	repo := &PGRepo{DB: db}

	mock.ExpectExec("INSERT INTO assessments").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), pgTestAssessment()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGRepoGetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	repo := &PGRepo{DB: db}

	want := pgTestAssessment()
	sections, _ := json.Marshal(want.Sections)
	proposals, _ := marshalProposals(want.Proposals)
	inputFiles, _ := json.Marshal(want.InputFiles)

	rows := sqlmock.NewRows(pgColumns).AddRow(
		want.ID, want.Phase, want.ModelName, want.SkipBusinessDesc, want.ReportName, want.CompanyName,
		want.HeadHTML, want.BodyPrefix, want.BusinessDesc, sections, proposals, inputFiles,
		nil, want.ErrorMessage, want.CreatedAt, *want.GeneratedAt, nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM assessments WHERE id").
		WithArgs("a-1").
		WillReturnRows(rows)

	got, err := repo.GetByID(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ID != want.ID || got.Phase != want.Phase {
		t.Errorf("got %+v", got)
	}
	if len(got.Sections) != 1 || got.Sections[0].Title != "Liquidity" {
		t.Errorf("sections = %+v", got.Sections)
	}
	if got.Proposals[0] != want.Proposals[0] {
		t.Errorf("proposals = %+v", got.Proposals)
	}
	if got.GeneratedAt == nil || !got.GeneratedAt.Equal(*want.GeneratedAt) {
		t.Errorf("GeneratedAt = %v", got.GeneratedAt)
	}
	if got.FinalizedAt != nil {
		t.Errorf("FinalizedAt = %v, want nil", got.FinalizedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	repo := &PGRepo{DB: db}

	mock.ExpectQuery("SELECT (.+) FROM assessments WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(pgColumns))

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPGRepoDeleteNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	repo := &PGRepo{DB: db}

	mock.ExpectExec("DELETE FROM assessments").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestProposalIndexRoundTrip(t *testing.T) {
	in := map[int]string{0: "a", 3: "b", 12: "c"}
	raw, err := marshalProposals(in)
	if err != nil {
		t.Fatal(err)
	}
	var out map[int]string
	if err := unmarshalProposals(raw, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) || out[3] != "b" || out[12] != "c" {
		t.Errorf("out = %+v", out)
	}
}
