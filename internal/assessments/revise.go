package assessments

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"report-backend/internal/genai"
	"report-backend/internal/prompts"
	"report-backend/internal/report"
)

// ProposeInput carries one AI-revision request for a section.
type ProposeInput struct {
	Instruction    string
	IncludeContext bool
	Evidence       []Upload
}

// Propose asks the generation backend for a replacement of one section and
// stores the result as that section's pending proposal. A newer proposal
// replaces any unresolved earlier one; a failed call stores nothing and
// leaves the section untouched.
func (s *Service) Propose(ctx context.Context, id string, idx int, in ProposeInput) (string, error) {
	if strings.TrimSpace(in.Instruction) == "" {
		return "", fmt.Errorf("%w: instruction is required", ErrInvalidSection)
	}

	// Snapshot the prompt inputs under the lock, then call the backend
	// without it so concurrent review of other sections proceeds.
	m := s.lock(id)
	m.Lock()
	a, err := s.loadReviewable(ctx, id)
	if err != nil {
		m.Unlock()
		return "", err
	}
	if !a.SectionInRange(idx) {
		m.Unlock()
		return "", ErrInvalidSection
	}
	sectionHTML := a.Sections[idx].HTML
	var documentHTML string
	if in.IncludeContext {
		documentHTML = report.Assemble(assembleDocument(a))
	}
	model := s.SectionModel
	if model == "" {
		model = a.ModelName
	}
	m.Unlock()

	session := genai.NewSession(s.Gen)
	defer session.Cleanup()

	var evidence []genai.FileHandle
	for _, f := range in.Evidence {
		h, uerr := session.Upload(ctx, genai.Upload{
			DisplayName: f.FileName,
			MIMEType:    f.MIMEType,
			Data:        bytes.NewReader(f.Data),
		})
		if uerr != nil {
			return "", fmt.Errorf("upload evidence %s: %w", f.FileName, uerr)
		}
		evidence = append(evidence, h)
	}

	scope := prompts.ScopeSection
	if in.IncludeContext {
		scope = prompts.ScopeDocument
	}
	out, err := s.Gen.Generate(ctx, genai.Request{
		Model: model,
		Parts: prompts.BuildRevisionPrompt(prompts.RevisionInput{
			Scope:        scope,
			SectionHTML:  sectionHTML,
			DocumentHTML: documentHTML,
			Instruction:  in.Instruction,
			Evidence:     evidence,
		}),
	})
	if err != nil {
		return "", fmt.Errorf("revise section %d: %w", idx, err)
	}
	proposed := genai.CleanHTML(out)
	if proposed == "" {
		return "", fmt.Errorf("revise section %d: %w", idx, genai.ErrEmptyResponse)
	}

	m.Lock()
	defer m.Unlock()
	a, err = s.loadReviewable(ctx, id)
	if err != nil {
		// Discarded or finalized while the call was in flight: drop the
		// result. The deferred cleanup still releases the evidence uploads.
		return "", err
	}
	if !a.SectionInRange(idx) {
		return "", ErrInvalidSection
	}
	if a.Proposals == nil {
		a.Proposals = make(map[int]string)
	}
	a.Proposals[idx] = proposed
	a.appendChange("propose", idx, truncateDetail(in.Instruction))
	if err := s.Repo.Save(ctx, a); err != nil {
		return "", err
	}
	return proposed, nil
}

// AcceptProposal promotes a section's pending proposal into its content.
// This is an edit, so the section demotes to pending. The caller may pass
// the HTML it displayed for confirmation; when non-empty it supersedes the
// stored proposal.
func (s *Service) AcceptProposal(ctx context.Context, id string, idx int, html string) (Assessment, error) {
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
	proposal, ok := a.Proposals[idx]
	if !ok {
		return Assessment{}, ErrNoProposal
	}
	content := html
	if strings.TrimSpace(content) == "" {
		content = proposal
	}
	a.Sections[idx].HTML = content
	a.Sections[idx].Status = StatusPending
	delete(a.Proposals, idx)
	a.appendChange("accept_proposal", idx, "")
	if err := s.Repo.Save(ctx, a); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

// RejectProposal clears a section's pending proposal without touching its
// content or status. Rejecting when nothing is pending is a no-op.
func (s *Service) RejectProposal(ctx context.Context, id string, idx int) (Assessment, error) {
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
	if _, ok := a.Proposals[idx]; ok {
		delete(a.Proposals, idx)
		a.appendChange("reject_proposal", idx, "")
		if err := s.Repo.Save(ctx, a); err != nil {
			return Assessment{}, err
		}
	}
	return a, nil
}

// truncateDetail bounds a change-log detail, cutting on a rune boundary so
// the log never holds invalid UTF-8.
func truncateDetail(s string) string {
	const max = 200
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
