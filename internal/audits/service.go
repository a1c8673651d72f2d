// Package audits runs an independent review of a generated report against
// its source documents.
package audits

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"report-backend/internal/assessments"
	"report-backend/internal/extract"
	"report-backend/internal/genai"
	"report-backend/internal/prompts"
	"report-backend/internal/shared/storage/object"
	"report-backend/internal/shared/telemetry"
	"report-backend/internal/shared/util"
)

var (
	// ErrNoReport indicates the assessment has no generated report to audit.
	ErrNoReport = errors.New("no report to audit")
)

// ReportSource exposes the slice of the assessment surface the auditor needs.
type ReportSource interface {
	Get(ctx context.Context, id string) (assessments.Assessment, error)
	Report(ctx context.Context, id string) (string, error)
}

// Service audits generated reports with the generation backend.
type Service struct {
	Reports ReportSource
	Store   object.ObjectStore
	Gen     genai.Client
	Model   string
}

// RunInput identifies the report to audit plus optional risk research. A
// risk file (docx/pdf/txt) is extracted to text and merged after RiskResearch.
type RunInput struct {
	AssessmentID string
	RiskResearch string
	RiskFile     *assessments.Upload
}

// Result is one finished audit.
type Result struct {
	AssessmentID string `json:"assessmentId"`
	FileName     string `json:"fileName"`
	HTML         string `json:"html"`
}

// Run audits one assessment's current report. The audit attaches the
// assessment's statement inputs as source documents and stores the verdict
// alongside the assessment's other artifacts.
func (s *Service) Run(ctx context.Context, in RunInput) (Result, error) {
	a, err := s.Reports.Get(ctx, in.AssessmentID)
	if err != nil {
		return Result{}, err
	}
	if len(a.Sections) == 0 {
		return Result{}, ErrNoReport
	}
	reportHTML, err := s.Reports.Report(ctx, in.AssessmentID)
	if err != nil {
		return Result{}, err
	}

	riskResearch := strings.TrimSpace(in.RiskResearch)
	if in.RiskFile != nil {
		text, terr := extract.Text(ctx, in.RiskFile.Data, in.RiskFile.MIMEType, in.RiskFile.FileName)
		if terr != nil {
			return Result{}, fmt.Errorf("extract risk file %s: %w", in.RiskFile.FileName, terr)
		}
		if riskResearch != "" {
			riskResearch += "\n\n"
		}
		riskResearch += text
	}

	session := genai.NewSession(s.Gen)
	defer session.Cleanup()

	sources, err := s.uploadStatements(ctx, session, a)
	if err != nil {
		return Result{}, err
	}

	out, err := s.Gen.Generate(ctx, genai.Request{
		Model: s.Model,
		Parts: prompts.BuildAuditPrompt(prompts.AuditInput{
			ReportHTML:   reportHTML,
			ReportName:   a.ReportName,
			RiskResearch: riskResearch,
			Sources:      sources,
		}),
	})
	if err != nil {
		return Result{}, fmt.Errorf("audit %s: %w", in.AssessmentID, err)
	}
	auditHTML := genai.CleanHTML(out)
	if auditHTML == "" {
		return Result{}, fmt.Errorf("audit %s: %w", in.AssessmentID, genai.ErrEmptyResponse)
	}

	fileName := "audit_" + util.SafeReportName(a.ReportName) + ".html"
	if _, _, _, err := s.Store.Save(ctx, a.ID, fileName, strings.NewReader(auditHTML)); err != nil {
		telemetry.Warn("audit.persist_failed", map[string]any{"assessment_id": a.ID, "error": err.Error()})
	}

	return Result{AssessmentID: a.ID, FileName: fileName, HTML: auditHTML}, nil
}

func (s *Service) uploadStatements(ctx context.Context, session *genai.Session, a assessments.Assessment) ([]genai.FileHandle, error) {
	var handles []genai.FileHandle
	for _, f := range a.InputFiles {
		if f.Kind != assessments.FileKindStatement {
			continue
		}
		rc, err := s.Store.Open(ctx, f.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.StorageKey, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.StorageKey, err)
		}
		h, err := session.Upload(ctx, genai.Upload{
			DisplayName: f.FileName,
			MIMEType:    f.MIMEType,
			Data:        bytes.NewReader(data),
		})
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", f.FileName, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}
