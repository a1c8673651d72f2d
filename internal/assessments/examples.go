package assessments

import (
	"bytes"
	"context"
	"path"
	"sort"
	"strings"

	"report-backend/internal/genai"
	"report-backend/internal/prompts"
	"report-backend/internal/shared/telemetry"
)

// ExamplesNamespace is the object-store namespace holding finished example
// sets the generation call learns from: a parsed ratio file paired with the
// report an analyst wrote from it. Files pair on a shared stem, so
// "acme_ratios.md" belongs with "acme_report.html".
const ExamplesNamespace = "examples"

// maxExampleSets caps how many example pairs one generation prompt carries.
const maxExampleSets = 2

// loadExamples uploads stored example pairs through the call's session so
// they are released with the rest of its files. Examples enrich the prompt
// but are never required: a missing namespace, an unpaired file or a failed
// upload skips the set and generation proceeds without it.
func (s *Service) loadExamples(ctx context.Context, session *genai.Session) []prompts.ExampleSet {
	keys, err := s.Store.ListNamespace(ctx, ExamplesNamespace)
	if err != nil {
		telemetry.Warn("assessment.examples_unavailable", map[string]any{"error": err.Error()})
		return nil
	}

	type pairKeys struct {
		ratios string
		report string
	}
	pairs := make(map[string]*pairKeys)
	var names []string
	for _, key := range keys {
		base := path.Base(key)
		stem := strings.TrimSuffix(base, path.Ext(base))
		var name string
		switch {
		case strings.HasSuffix(stem, "_ratios"):
			name = strings.TrimSuffix(stem, "_ratios")
		case strings.HasSuffix(stem, "_report"):
			name = strings.TrimSuffix(stem, "_report")
		default:
			telemetry.Warn("assessment.example_unpaired", map[string]any{"key": key})
			continue
		}
		p, ok := pairs[name]
		if !ok {
			p = &pairKeys{}
			pairs[name] = p
			names = append(names, name)
		}
		if strings.HasSuffix(stem, "_ratios") {
			p.ratios = key
		} else {
			p.report = key
		}
	}
	sort.Strings(names)

	var sets []prompts.ExampleSet
	for _, name := range names {
		if len(sets) == maxExampleSets {
			break
		}
		p := pairs[name]
		if p.ratios == "" || p.report == "" {
			telemetry.Warn("assessment.example_unpaired", map[string]any{"example": name})
			continue
		}
		ratios, err := s.uploadExample(ctx, session, p.ratios)
		if err != nil {
			telemetry.Warn("assessment.example_skipped", map[string]any{"example": name, "error": err.Error()})
			continue
		}
		report, err := s.uploadExample(ctx, session, p.report)
		if err != nil {
			telemetry.Warn("assessment.example_skipped", map[string]any{"example": name, "error": err.Error()})
			continue
		}
		sets = append(sets, prompts.ExampleSet{Ratios: ratios, Report: report})
	}
	return sets
}

func (s *Service) uploadExample(ctx context.Context, session *genai.Session, key string) (genai.FileHandle, error) {
	data, err := s.readObject(ctx, key)
	if err != nil {
		return genai.FileHandle{}, err
	}
	return session.Upload(ctx, genai.Upload{
		DisplayName: path.Base(key),
		MIMEType:    exampleMIME(key),
		Data:        bytes.NewReader(data),
	})
}

func exampleMIME(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".md":
		return "text/markdown"
	case ".html", ".htm":
		return "text/html"
	case ".pdf":
		return "application/pdf"
	case ".xlsx", ".xlsm":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
