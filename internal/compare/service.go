// Package compare judges a generated report against a human-written baseline
// covering the same company.
package compare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"report-backend/internal/assessments"
	"report-backend/internal/audits"
	"report-backend/internal/genai"
	"report-backend/internal/prompts"
	"report-backend/internal/shared/storage/object"
	"report-backend/internal/shared/telemetry"
	"report-backend/internal/shared/util"
)

var (
	// ErrNoReport indicates the assessment has no generated report to compare.
	ErrNoReport = errors.New("no report to compare")
	// ErrNoBaseline indicates no human report was supplied.
	ErrNoBaseline = errors.New("no human baseline report")
)

// Service compares reports with the generation backend.
type Service struct {
	Reports audits.ReportSource
	Store   object.ObjectStore
	Gen     genai.Client
	Model   string
}

// RunInput identifies the generated report and carries the human baseline.
type RunInput struct {
	AssessmentID string
	HumanReport  assessments.Upload
}

// Result is one finished comparison.
type Result struct {
	AssessmentID string `json:"assessmentId"`
	FileName     string `json:"fileName"`
	HTML         string `json:"html"`
}

// Run compares one assessment's current report with the supplied baseline,
// attaching the assessment's statement inputs as ground truth.
func (s *Service) Run(ctx context.Context, in RunInput) (Result, error) {
	if len(in.HumanReport.Data) == 0 {
		return Result{}, ErrNoBaseline
	}
	a, err := s.Reports.Get(ctx, in.AssessmentID)
	if err != nil {
		return Result{}, err
	}
	if len(a.Sections) == 0 {
		return Result{}, ErrNoReport
	}
	generatedHTML, err := s.Reports.Report(ctx, in.AssessmentID)
	if err != nil {
		return Result{}, err
	}

	session := genai.NewSession(s.Gen)
	defer session.Cleanup()

	human, err := session.Upload(ctx, genai.Upload{
		DisplayName: in.HumanReport.FileName,
		MIMEType:    in.HumanReport.MIMEType,
		Data:        bytes.NewReader(in.HumanReport.Data),
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload human report: %w", err)
	}

	var statements []genai.FileHandle
	for _, f := range a.InputFiles {
		if f.Kind != assessments.FileKindStatement {
			continue
		}
		rc, oerr := s.Store.Open(ctx, f.StorageKey)
		if oerr != nil {
			return Result{}, fmt.Errorf("open %s: %w", f.StorageKey, oerr)
		}
		data, rerr := io.ReadAll(rc)
		rc.Close()
		if rerr != nil {
			return Result{}, fmt.Errorf("read %s: %w", f.StorageKey, rerr)
		}
		h, uerr := session.Upload(ctx, genai.Upload{
			DisplayName: f.FileName,
			MIMEType:    f.MIMEType,
			Data:        bytes.NewReader(data),
		})
		if uerr != nil {
			return Result{}, fmt.Errorf("upload %s: %w", f.FileName, uerr)
		}
		statements = append(statements, h)
	}

	out, err := s.Gen.Generate(ctx, genai.Request{
		Model: s.Model,
		Parts: prompts.BuildComparisonPrompt(prompts.ComparisonInput{
			GeneratedHTML: generatedHTML,
			HumanReport:   human,
			Statements:    statements,
		}),
	})
	if err != nil {
		return Result{}, fmt.Errorf("compare %s: %w", in.AssessmentID, err)
	}
	comparisonHTML := genai.CleanHTML(out)
	if comparisonHTML == "" {
		return Result{}, fmt.Errorf("compare %s: %w", in.AssessmentID, genai.ErrEmptyResponse)
	}

	fileName := "comparison_" + util.SafeReportName(a.ReportName) + ".html"
	if _, _, _, err := s.Store.Save(ctx, a.ID, fileName, strings.NewReader(comparisonHTML)); err != nil {
		telemetry.Warn("compare.persist_failed", map[string]any{"assessment_id": a.ID, "error": err.Error()})
	}

	return Result{AssessmentID: a.ID, FileName: fileName, HTML: comparisonHTML}, nil
}
