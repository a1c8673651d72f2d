package assessments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"report-backend/internal/genai"
	"report-backend/internal/progress"
	"report-backend/internal/report"
)

func TestEndToEnd(t *testing.T) {
	gen := &stubGen{}
	svc := newTestService(t, gen)
	ctx := context.Background()

	a := startAndAwaitReview(t, svc)
	if len(a.Sections) != 5 {
		t.Fatalf("sections = %d, want 5", len(a.Sections))
	}
	for i, s := range a.Sections {
		if s.Status != StatusPending {
			t.Errorf("section %d status = %s, want pending", i, s.Status)
		}
		if s.HTML != s.OriginalHTML {
			t.Errorf("section %d html diverges from original before any edit", i)
		}
	}
	if a.GeneratedAt == nil {
		t.Error("GeneratedAt not set")
	}
	if a.BusinessDesc == "" {
		t.Error("business description missing")
	}
	waitFor(t, func() bool {
		_, ok := svc.Broker.Get(a.ID)
		return !ok
	})

	for i := range a.Sections {
		if _, err := svc.ApproveSection(ctx, a.ID, i); err != nil {
			t.Fatalf("ApproveSection(%d): %v", i, err)
		}
	}

	final, err := svc.Finalize(ctx, a.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if final.Phase != PhaseComplete {
		t.Errorf("phase = %s, want complete", final.Phase)
	}
	if final.FinalizedAt == nil {
		t.Error("FinalizedAt not set")
	}

	html, err := svc.Report(ctx, a.ID)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	doc, err := report.Split(html)
	if err != nil {
		t.Fatalf("re-split final report: %v", err)
	}
	if len(doc.Sections) != 5 {
		t.Errorf("final report sections = %d, want 5", len(doc.Sections))
	}
	for i, sec := range doc.Sections {
		if strings.TrimSpace(sec.HTML) != strings.TrimSpace(final.Sections[i].HTML) {
			t.Errorf("final section %d content diverges", i)
		}
	}
}

func TestGenerationFailureEntersErrorPhase(t *testing.T) {
	gen := &stubGen{err: genai.ErrBlocked}
	svc := newTestService(t, gen)

	a, err := svc.Start(context.Background(), StartInput{
		Files: []Upload{{FileName: "r.xlsx", Data: []byte("x")}},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	failed := awaitPhase(t, svc, a.ID, PhaseError)
	if failed.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
	if len(failed.Sections) != 0 {
		t.Error("partial sections stored on generation failure")
	}
	// uploads for the failed call are still released
	waitFor(t, func() bool { return len(gen.deletedFiles()) >= 1 })
}

// failingSaveRepo rejects saves of rows in one phase so tests can exercise
// persistence failures at a chosen point in the pipeline.
type failingSaveRepo struct {
	*MemoryRepo
	failPhase string
}

func (r *failingSaveRepo) Save(ctx context.Context, a Assessment) error {
	if a.Phase == r.failPhase {
		return errors.New("connection reset")
	}
	return r.MemoryRepo.Save(ctx, a)
}

func TestPersistFailureAfterGenerationEntersErrorPhase(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	svc.Repo = &failingSaveRepo{MemoryRepo: NewMemoryRepo(), failPhase: PhaseReview}

	a, err := svc.Start(context.Background(), StartInput{
		Files: []Upload{{FileName: "r.xlsx", Data: []byte("x")}},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	failed := awaitPhase(t, svc, a.ID, PhaseError)
	if !strings.Contains(failed.ErrorMessage, "persist") {
		t.Errorf("error message = %q", failed.ErrorMessage)
	}
	if len(failed.Sections) != 0 {
		t.Error("partial sections stored after persistence failure")
	}
}

func TestZeroSectionReportIsGenerationFailure(t *testing.T) {
	gen := &stubGen{replies: []string{"<html><head></head><body><p>no headings</p></body></html>"}}
	svc := newTestService(t, gen)

	a, err := svc.Start(context.Background(), StartInput{
		Files: []Upload{{FileName: "r.xlsx", Data: []byte("x")}},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	failed := awaitPhase(t, svc, a.ID, PhaseError)
	if !strings.Contains(failed.ErrorMessage, "no reviewable sections") {
		t.Errorf("error message = %q", failed.ErrorMessage)
	}
}

func TestApprovalDemotionOnEdit(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	ctx := context.Background()
	a := startAndAwaitReview(t, svc)

	if _, err := svc.ApproveSection(ctx, a.ID, 1); err != nil {
		t.Fatal(err)
	}

	// different content demotes
	a2, err := svc.EditSection(ctx, a.ID, 1, "<h2>2. Liquidity</h2><p>revised</p>")
	if err != nil {
		t.Fatal(err)
	}
	if a2.Sections[1].Status != StatusPending {
		t.Error("edit did not demote approved section")
	}
	if !a2.Sections[1].Edited() {
		t.Error("edited flag not set")
	}

	// identical content still demotes: approval attests exact content
	if _, err := svc.ApproveSection(ctx, a.ID, 1); err != nil {
		t.Fatal(err)
	}
	same := a2.Sections[1].HTML
	a3, err := svc.EditSection(ctx, a.ID, 1, same)
	if err != nil {
		t.Fatal(err)
	}
	if a3.Sections[1].Status != StatusPending {
		t.Error("identical-content edit did not demote")
	}
}

func TestFinalizeGate(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	ctx := context.Background()
	a := startAndAwaitReview(t, svc)

	// approve all but one
	for i := 0; i < len(a.Sections)-1; i++ {
		if _, err := svc.ApproveSection(ctx, a.ID, i); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := svc.Get(ctx, a.ID)

	if _, err := svc.Finalize(ctx, a.ID); !errors.Is(err, ErrNotAllApproved) {
		t.Fatalf("Finalize err = %v, want ErrNotAllApproved", err)
	}

	after, _ := svc.Get(ctx, a.ID)
	if after.Phase != PhaseReview || after.FinalizedAt != nil {
		t.Error("failed finalize mutated state")
	}
	if len(after.Changes) != len(before.Changes) {
		t.Error("failed finalize appended to change log")
	}
}

func TestResetIdempotence(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	ctx := context.Background()
	a := startAndAwaitReview(t, svc)

	if _, err := svc.EditSection(ctx, a.ID, 2, "<h2>3. Solvency</h2><p>edited</p>"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ApproveSection(ctx, a.ID, 2); err != nil {
		t.Fatal(err)
	}

	first, err := svc.ResetSection(ctx, a.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.ResetSection(ctx, a.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, got := range []Assessment{first, second} {
		sec := got.Sections[2]
		if sec.HTML != sec.OriginalHTML || sec.Status != StatusPending {
			t.Errorf("reset state: html-restored=%v status=%s", sec.HTML == sec.OriginalHTML, sec.Status)
		}
		if _, ok := got.Proposals[2]; ok {
			t.Error("reset left a pending proposal")
		}
	}
}

func TestApproveAllThenEditStillDemotes(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	ctx := context.Background()
	a := startAndAwaitReview(t, svc)

	bulk, err := svc.ApproveAll(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bulk.AllApproved() {
		t.Fatal("ApproveAll left pending sections")
	}

	edited, err := svc.EditSection(ctx, a.ID, 0, "<h2>1. Profitability</h2><p>tweak</p>")
	if err != nil {
		t.Fatal(err)
	}
	if edited.Sections[0].Status != StatusPending {
		t.Error("edit after approve-all did not demote")
	}
}

func TestInvalidSectionIndex(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	ctx := context.Background()
	a := startAndAwaitReview(t, svc)

	if _, err := svc.ApproveSection(ctx, a.ID, 99); !errors.Is(err, ErrInvalidSection) {
		t.Errorf("approve err = %v", err)
	}
	if _, err := svc.EditSection(ctx, a.ID, -1, "<p>x</p>"); !errors.Is(err, ErrInvalidSection) {
		t.Errorf("edit err = %v", err)
	}
	if _, err := svc.ResetSection(ctx, a.ID, len(a.Sections)); !errors.Is(err, ErrInvalidSection) {
		t.Errorf("reset err = %v", err)
	}
}

func TestReviewOpsRejectedOutsideReview(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	ctx := context.Background()
	a := startAndAwaitReview(t, svc)

	if _, err := svc.ApproveAll(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Finalize(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.EditSection(ctx, a.ID, 0, "<p>x</p>"); !errors.Is(err, ErrNotReviewable) {
		t.Errorf("edit after finalize err = %v", err)
	}
	if _, err := svc.ApproveSection(ctx, a.ID, 0); !errors.Is(err, ErrNotReviewable) {
		t.Errorf("approve after finalize err = %v", err)
	}
}

func TestProgressStreamTerminalEvent(t *testing.T) {
	gate := make(chan struct{})
	gen := &stubGen{err: errors.New("model exploded"), gate: gate}
	svc := newTestService(t, gen)

	a, err := svc.Start(context.Background(), StartInput{
		Files: []Upload{{FileName: "r.xlsx", Data: []byte("x")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	run, ok := svc.Broker.Get(a.ID)
	if !ok {
		t.Fatal("no run opened")
	}
	close(gate)

	events := drainEvents(run)
	if len(events) == 0 {
		t.Fatal("no events observed")
	}
	last := events[len(events)-1]
	if last.Kind != progress.KindError {
		t.Errorf("last event = %s, want error", last.Kind)
	}
	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want 1", terminals)
	}
	if !containsStage(events, "parse") {
		t.Error("parse stage never announced")
	}

	// finished runs do not linger in the broker; the drained reference above
	// was enough to observe the terminal event
	waitFor(t, func() bool {
		_, ok := svc.Broker.Get(a.ID)
		return !ok
	})
}

func TestDiscardDuringFlight(t *testing.T) {
	gate := make(chan struct{})
	gen := &stubGen{gate: gate}
	svc := newTestService(t, gen)
	ctx := context.Background()

	a, err := svc.Start(ctx, StartInput{
		Files: []Upload{{FileName: "r.xlsx", Data: []byte("x")}},
	})
	if err != nil {
		t.Fatal(err)
	}

	// wait until the pipeline is blocked inside Generate, then discard
	waitFor(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return gen.uploads >= 1
	})
	if err := svc.Discard(ctx, a.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	close(gate)

	// the late result must not resurrect the assessment
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := svc.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("discarded assessment reappeared (err = %v)", err)
		}
		if len(gen.deletedFiles()) >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	// uploads from the in-flight call are still released
	if len(gen.deletedFiles()) == 0 {
		t.Error("uploaded files not released after discard")
	}
}

func TestDiscardReleasesStoredObjects(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	ctx := context.Background()
	a := startAndAwaitReview(t, svc)

	keys, err := svc.Store.ListNamespace(ctx, a.ID)
	if err != nil || len(keys) == 0 {
		t.Fatalf("expected stored inputs, got %v (err %v)", keys, err)
	}

	if err := svc.Discard(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	keys, err = svc.Store.ListNamespace(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("objects left after discard: %v", keys)
	}
	if _, ok := svc.Broker.Get(a.ID); ok {
		t.Error("progress run left after discard")
	}
}

func TestStartRequiresRatioFile(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	_, err := svc.Start(context.Background(), StartInput{
		Files: []Upload{{FileName: "afs.pdf", Data: []byte("x")}},
	})
	if !errors.Is(err, ErrNoRatioFile) {
		t.Fatalf("err = %v, want ErrNoRatioFile", err)
	}
}

func TestResearchUploadFeedsReportPrompt(t *testing.T) {
	gen := &stubGen{}
	svc := newTestService(t, gen)

	a, err := svc.Start(context.Background(), StartInput{
		Files: []Upload{
			{FileName: "acme ratios.xlsx", Data: []byte("xlsx")},
			{FileName: "analyst notes.txt", MIMEType: "text/plain", Data: []byte("Acme supplies mining equipment across three provinces.")},
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	awaitPhase(t, svc, a.ID, PhaseReview)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	found := false
	for _, p := range gen.lastRequest.Parts {
		if strings.Contains(p.Text, "SUPPLEMENTARY RESEARCH") && strings.Contains(p.Text, "mining equipment") {
			found = true
		}
	}
	if !found {
		t.Error("research notes missing from generation prompt")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}
