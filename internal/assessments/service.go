package assessments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"report-backend/internal/enrich"
	"report-backend/internal/extract"
	"report-backend/internal/genai"
	"report-backend/internal/parse"
	"report-backend/internal/progress"
	"report-backend/internal/prompts"
	"report-backend/internal/report"
	"report-backend/internal/shared/storage/object"
	"report-backend/internal/shared/telemetry"
	"report-backend/internal/shared/util"
)

// frontTextLimit caps how much statement text feeds company sniffing and
// description synthesis; researchTextLimit caps supplementary research notes
// passed into the report prompt.
const (
	frontTextLimit    = 5000
	researchTextLimit = 20000
)

// Service owns the assessment lifecycle: submission, the asynchronous
// generation pipeline, section review, finalization and discard.
//
// Whole-document and per-section mutations of one assessment are serialized
// behind a per-assessment mutex; long generation calls run outside the lock
// so review of other assessments is never blocked.
type Service struct {
	Repo      Repo
	Store     object.ObjectStore
	Gen       genai.Client
	Parser    parse.Parser
	Describer enrich.Describer
	Broker    *progress.Broker

	// ReportModel generates whole reports when the caller picks no model;
	// SectionModel serves revision proposals.
	ReportModel  string
	SectionModel string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (s *Service) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *Service) dropLock(id string) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

// Upload is one file received from the caller.
type Upload struct {
	FileName string
	MIMEType string
	Data     []byte
}

// StartInput carries one submission.
type StartInput struct {
	ReportName       string
	ModelName        string
	SkipBusinessDesc bool
	Files            []Upload
}

// Start stores the uploads, creates the assessment in phase generating and
// kicks off the pipeline asynchronously. The caller polls or subscribes to
// the progress stream for the outcome.
func (s *Service) Start(ctx context.Context, in StartInput) (Assessment, error) {
	if len(in.Files) == 0 {
		return Assessment{}, fmt.Errorf("%w: at least one file is required", ErrNoRatioFile)
	}

	id := uuid.NewString()
	var (
		inputFiles []InputFile
		ratioName  string
	)
	for _, f := range in.Files {
		kind := classifyUpload(f.FileName)
		if kind == FileKindRatios && ratioName == "" {
			ratioName = f.FileName
		}
		key, size, mime, err := s.Store.Save(ctx, id, f.FileName, bytes.NewReader(f.Data))
		if err != nil {
			s.releaseObjects(id)
			return Assessment{}, fmt.Errorf("store upload %s: %w", f.FileName, err)
		}
		if f.MIMEType != "" {
			mime = f.MIMEType
		}
		inputFiles = append(inputFiles, InputFile{
			FileName:   f.FileName,
			StorageKey: key,
			MIMEType:   mime,
			SizeBytes:  size,
			Kind:       kind,
		})
	}
	if ratioName == "" {
		s.releaseObjects(id)
		return Assessment{}, ErrNoRatioFile
	}

	companyName := extract.NameFromFileName(ratioName)
	reportName := in.ReportName
	if reportName == "" {
		reportName = util.SafeReportName(companyName)
	}
	modelName := in.ModelName
	if modelName == "" {
		modelName = s.ReportModel
	}

	a := Assessment{
		ID:               id,
		Phase:            PhaseGenerating,
		ModelName:        modelName,
		SkipBusinessDesc: in.SkipBusinessDesc,
		ReportName:       reportName,
		CompanyName:      companyName,
		InputFiles:       inputFiles,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, a); err != nil {
		s.releaseObjects(id)
		return Assessment{}, err
	}

	s.Broker.Open(id)
	go s.runPipeline(id)

	return a, nil
}

func classifyUpload(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm", ".xls":
		return FileKindRatios
	case ".txt", ".md":
		return FileKindResearch
	default:
		return FileKindStatement
	}
}

// runPipeline drives one assessment from generating to review (or error).
// It runs detached from the submitting request: discarding the assessment
// mid-flight leaves this goroutine to finish, drop its result and still
// release uploaded remote files.
func (s *Service) runPipeline(id string) {
	ctx := context.Background()
	run, ok := s.Broker.Get(id)
	if !ok {
		run = s.Broker.Open(id)
	}
	// Every exit path below has emitted a terminal event (or a discard did it
	// first), so the broker can forget the run. Attached subscribers keep
	// their reference and still drain the buffered events.
	defer s.Broker.Remove(id)

	session := genai.NewSession(s.Gen)
	defer session.Cleanup()

	html, companyName, businessDesc, genErr := s.generateReport(ctx, id, run, session)

	var doc report.Document
	if genErr == nil {
		doc, genErr = report.Split(html)
		if errors.Is(genErr, report.ErrNoSections) {
			genErr = fmt.Errorf("generated report has no reviewable sections: %w", genErr)
		}
	}

	m := s.lock(id)
	m.Lock()
	defer m.Unlock()

	a, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		// Discarded while the call was in flight. Drop the result; the
		// deferred cleanup still releases the uploads.
		telemetry.Info("assessment.result_dropped", map[string]any{"assessment_id": id})
		return
	}

	if genErr != nil {
		a.Phase = PhaseError
		a.ErrorMessage = genErr.Error()
		if err := s.Repo.Save(ctx, a); err != nil {
			telemetry.Error("assessment.save_failed", map[string]any{"assessment_id": id, "error": err.Error()})
		}
		run.Fail(genErr.Error())
		return
	}

	now := time.Now().UTC()
	a.Phase = PhaseReview
	a.HeadHTML = doc.HeadHTML
	a.BodyPrefix = doc.BodyPrefix
	a.Sections = make([]Section, len(doc.Sections))
	for i, sec := range doc.Sections {
		a.Sections[i] = Section{
			ID:           sec.ID,
			Title:        sec.Title,
			OriginalHTML: sec.HTML,
			HTML:         sec.HTML,
			Status:       StatusPending,
		}
	}
	a.GeneratedAt = &now
	if companyName != "" {
		a.CompanyName = companyName
	}
	a.BusinessDesc = businessDesc

	if err := s.Repo.Save(ctx, a); err != nil {
		telemetry.Error("assessment.save_failed", map[string]any{"assessment_id": id, "error": err.Error()})
		// Keep status polling and the stream in agreement: store a bare
		// error-phase row instead of leaving the assessment generating.
		a.Phase = PhaseError
		a.ErrorMessage = "failed to persist generated report"
		a.HeadHTML = ""
		a.BodyPrefix = ""
		a.Sections = nil
		a.GeneratedAt = nil
		if serr := s.Repo.Save(ctx, a); serr != nil {
			telemetry.Error("assessment.save_failed", map[string]any{"assessment_id": id, "error": serr.Error()})
		}
		run.Fail("failed to persist generated report")
		return
	}

	telemetry.Info("assessment.generated", map[string]any{
		"assessment_id":   id,
		"sections":        len(a.Sections),
		"phaseTransition": PhaseGenerating + "->" + PhaseReview,
	})
	run.Stage("review")
	run.Complete(PhaseReview)
}

// generateReport runs parse, describe, upload and generate. It returns the
// raw report HTML plus whatever company identity the inputs yielded.
func (s *Service) generateReport(ctx context.Context, id string, run *progress.Run, session *genai.Session) (html, companyName, businessDesc string, err error) {
	a, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return "", "", "", err
	}

	run.Stage("parse")
	var (
		ratioMarkdown string
		ratioFileName string
		statements    []InputFile
		research      []InputFile
	)
	for _, f := range a.InputFiles {
		switch f.Kind {
		case FileKindRatios:
			if ratioMarkdown != "" {
				continue
			}
			data, rerr := s.readObject(ctx, f.StorageKey)
			if rerr != nil {
				return "", "", "", rerr
			}
			ratioMarkdown, rerr = s.Parser.ParseToMarkdown(ctx, f.FileName, data)
			if rerr != nil {
				return "", "", "", fmt.Errorf("parse ratio file %s: %w", f.FileName, rerr)
			}
			ratioFileName = f.FileName
			run.Log("parsed " + f.FileName)
		case FileKindStatement:
			statements = append(statements, f)
		case FileKindResearch:
			research = append(research, f)
		}
	}
	if ratioMarkdown == "" {
		return "", "", "", ErrNoRatioFile
	}

	companyName = a.CompanyName
	var frontText string
	if len(statements) > 0 {
		data, rerr := s.readObject(ctx, statements[0].StorageKey)
		if rerr == nil {
			if text, terr := extract.Text(ctx, data, statements[0].MIMEType, statements[0].FileName); terr == nil {
				frontText = extract.FrontText(text, frontTextLimit)
			}
		}
	}
	info := extract.DetectCompany(frontText)
	if info.Name != "" {
		companyName = info.Name
	}

	if !a.SkipBusinessDesc && s.Describer != nil {
		run.Stage("describe")
		desc, derr := s.Describer.Describe(ctx, enrich.Input{
			CompanyName:        companyName,
			RegistrationNumber: info.RegistrationNumber,
			FrontText:          frontText,
		})
		if derr != nil {
			return "", "", "", fmt.Errorf("business description: %w", derr)
		}
		businessDesc = desc
		run.Log("business description ready")
	}

	var researchText string
	if len(research) > 0 {
		var notes []string
		for _, f := range research {
			data, rerr := s.readObject(ctx, f.StorageKey)
			if rerr != nil {
				return "", "", "", rerr
			}
			text, terr := extract.Text(ctx, data, f.MIMEType, f.FileName)
			if terr != nil {
				telemetry.Warn("assessment.research_unreadable", map[string]any{"assessment_id": id, "file": f.FileName, "error": terr.Error()})
				continue
			}
			notes = append(notes, text)
		}
		researchText = extract.FrontText(strings.Join(notes, "\n\n"), researchTextLimit)
	}

	run.Stage("upload")
	ratioHandle, err := session.Upload(ctx, genai.Upload{
		DisplayName: ratioFileName + ".md",
		MIMEType:    "text/markdown",
		Data:        strings.NewReader(ratioMarkdown),
	})
	if err != nil {
		return "", "", "", fmt.Errorf("upload ratio markdown: %w", err)
	}
	var statementHandles []genai.FileHandle
	for _, f := range statements {
		data, rerr := s.readObject(ctx, f.StorageKey)
		if rerr != nil {
			return "", "", "", rerr
		}
		h, uerr := session.Upload(ctx, genai.Upload{
			DisplayName: f.FileName,
			MIMEType:    f.MIMEType,
			Data:        bytes.NewReader(data),
		})
		if uerr != nil {
			return "", "", "", fmt.Errorf("upload %s: %w", f.FileName, uerr)
		}
		statementHandles = append(statementHandles, h)
		run.Log("uploaded " + f.FileName)
	}

	examples := s.loadExamples(ctx, session)
	if len(examples) > 0 {
		run.Log(fmt.Sprintf("attached %d example set(s)", len(examples)))
	}

	run.Stage("generate")
	parts := prompts.BuildReportPrompt(prompts.ReportInput{
		CompanyName:  companyName,
		BusinessDesc: businessDesc,
		Research:     researchText,
		Ratios:       ratioHandle,
		Statements:   statementHandles,
		Examples:     examples,
	})
	out, err := s.Gen.Generate(ctx, genai.Request{Model: a.ModelName, Parts: parts})
	if err != nil {
		return "", "", "", fmt.Errorf("generate report: %w", err)
	}
	html = genai.CleanHTML(out)
	if html == "" {
		return "", "", "", genai.ErrEmptyResponse
	}
	return html, companyName, businessDesc, nil
}

func (s *Service) readObject(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.Store.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open stored object %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read stored object %s: %w", key, err)
	}
	return data, nil
}

// Get returns one assessment.
func (s *Service) Get(ctx context.Context, id string) (Assessment, error) {
	return s.Repo.GetByID(ctx, id)
}

// List returns assessments newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Assessment, error) {
	return s.Repo.List(ctx, limit, offset)
}

// loadReviewable loads an assessment that must be in phase review.
func (s *Service) loadReviewable(ctx context.Context, id string) (Assessment, error) {
	a, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Assessment{}, err
	}
	if a.Phase != PhaseReview {
		return Assessment{}, fmt.Errorf("%w: phase %s", ErrNotReviewable, a.Phase)
	}
	return a, nil
}

// EditSection replaces one section's content. Editing always demotes the
// section to pending, even when the new content equals the old: approval
// attests the exact content reviewed, and a rewrite is a new review.
func (s *Service) EditSection(ctx context.Context, id string, idx int, html string) (Assessment, error) {
	m := s.lock(id)
	m.Lock()
	defer m.Unlock()

	a, err := s.loadReviewable(ctx, id)
	if err != nil {
		return Assessment{}, err
	}
	if !a.SectionInRange(idx) {
		return Assessment{}, ErrInvalidSection
	}
	a.Sections[idx].HTML = html
	a.Sections[idx].Status = StatusPending
	a.appendChange("edit", idx, "")
	if err := s.Repo.Save(ctx, a); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

// ApproveSection marks one section approved.
func (s *Service) ApproveSection(ctx context.Context, id string, idx int) (Assessment, error) {
	m := s.lock(id)
	m.Lock()
	defer m.Unlock()

	a, err := s.loadReviewable(ctx, id)
	if err != nil {
		return Assessment{}, err
	}
	if !a.SectionInRange(idx) {
		return Assessment{}, ErrInvalidSection
	}
	a.Sections[idx].Status = StatusApproved
	a.appendChange("approve", idx, "")
	if err := s.Repo.Save(ctx, a); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

// ResetSection restores one section to its generated content, demotes it to
// pending and clears any pending proposal. Idempotent.
func (s *Service) ResetSection(ctx context.Context, id string, idx int) (Assessment, error) {
	m := s.lock(id)
	m.Lock()
	defer m.Unlock()

	a, err := s.loadReviewable(ctx, id)
	if err != nil {
		return Assessment{}, err
	}
	if !a.SectionInRange(idx) {
		return Assessment{}, ErrInvalidSection
	}
	a.Sections[idx].HTML = a.Sections[idx].OriginalHTML
	a.Sections[idx].Status = StatusPending
	delete(a.Proposals, idx)
	a.appendChange("reset", idx, "")
	if err := s.Repo.Save(ctx, a); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

// ApproveAll marks every section approved in one step.
func (s *Service) ApproveAll(ctx context.Context, id string) (Assessment, error) {
	m := s.lock(id)
	m.Lock()
	defer m.Unlock()

	a, err := s.loadReviewable(ctx, id)
	if err != nil {
		return Assessment{}, err
	}
	for i := range a.Sections {
		a.Sections[i].Status = StatusApproved
	}
	a.appendChange("approve_all", -1, "")
	if err := s.Repo.Save(ctx, a); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

// Finalize reassembles the reviewed sections into the final document,
// persists it and moves the assessment to phase complete. It fails with
// ErrNotAllApproved, and mutates nothing, while any section is pending.
func (s *Service) Finalize(ctx context.Context, id string) (Assessment, error) {
	m := s.lock(id)
	m.Lock()
	defer m.Unlock()

	a, err := s.loadReviewable(ctx, id)
	if err != nil {
		return Assessment{}, err
	}
	if !a.AllApproved() {
		return Assessment{}, ErrNotAllApproved
	}

	final := report.Assemble(assembleDocument(a))
	fileName := util.SafeReportName(a.ReportName) + ".html"
	if _, _, _, err := s.Store.Save(ctx, a.ID, fileName, strings.NewReader(final)); err != nil {
		return Assessment{}, fmt.Errorf("persist final report: %w", err)
	}

	now := time.Now().UTC()
	a.Phase = PhaseComplete
	a.FinalizedAt = &now
	a.appendChange("finalize", -1, fileName)
	if err := s.Repo.Save(ctx, a); err != nil {
		return Assessment{}, err
	}
	telemetry.Info("assessment.finalized", map[string]any{
		"assessment_id":   id,
		"phaseTransition": PhaseReview + "->" + PhaseComplete,
	})
	return a, nil
}

// Report assembles the current document. During review this is a preview of
// the in-progress edits; after finalize it equals the persisted report.
func (s *Service) Report(ctx context.Context, id string) (string, error) {
	a, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if len(a.Sections) == 0 {
		return "", fmt.Errorf("%w: no generated report", ErrNotReviewable)
	}
	return report.Assemble(assembleDocument(a)), nil
}

// Discard removes the assessment and releases everything it stored. Allowed
// from any non-complete phase; a generation or revision call still in flight
// finishes on its own and its result is dropped.
func (s *Service) Discard(ctx context.Context, id string) error {
	m := s.lock(id)
	m.Lock()
	defer m.Unlock()

	a, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.Terminal() {
		// finalized reports stay; nothing forbids deleting them, but the
		// review surface treats complete as read-only
		return fmt.Errorf("%w: assessment is complete", ErrNotReviewable)
	}

	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}
	if run, ok := s.Broker.Get(id); ok {
		run.Fail("assessment discarded")
		s.Broker.Remove(id)
	}
	s.releaseObjects(id)
	s.dropLock(id)

	telemetry.Info("assessment.discarded", map[string]any{"assessment_id": id, "phase": a.Phase})
	return nil
}

// releaseObjects best-effort deletes everything stored under the
// assessment's namespace. Failures are logged, never surfaced.
func (s *Service) releaseObjects(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	keys, err := s.Store.ListNamespace(ctx, id)
	if err != nil {
		telemetry.Warn("assessment.release_failed", map[string]any{"assessment_id": id, "error": err.Error()})
		return
	}
	for _, key := range keys {
		if err := s.Store.Delete(ctx, key); err != nil {
			telemetry.Warn("assessment.release_failed", map[string]any{"assessment_id": id, "key": key, "error": err.Error()})
		}
	}
}

func assembleDocument(a Assessment) report.Document {
	doc := report.Document{
		HeadHTML:   a.HeadHTML,
		BodyPrefix: a.BodyPrefix,
		Sections:   make([]report.Section, len(a.Sections)),
	}
	for i, sec := range a.Sections {
		doc.Sections[i] = report.Section{ID: sec.ID, Title: sec.Title, HTML: sec.HTML}
	}
	return doc
}
