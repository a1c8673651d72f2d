// Package enrich produces the company business description that accompanies
// the generated report. It synthesizes from statement front matter first and
// falls back to web research when the statements say too little.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"report-backend/internal/extract"
	"report-backend/internal/genai"
	"report-backend/internal/shared/telemetry"
)

// Input identifies the company and carries whatever front-matter text the
// statement extraction produced.
type Input struct {
	CompanyName        string
	RegistrationNumber string
	FrontText          string
}

// Describer produces a business description for a company.
type Describer interface {
	Describe(ctx context.Context, in Input) (string, error)
}

// Researcher finds and scrapes public pages about a company.
type Researcher interface {
	Search(ctx context.Context, query string) ([]string, error)
	Scrape(ctx context.Context, url string) (string, error)
}

const (
	// minFrontText is the least statement text worth synthesizing from.
	minFrontText = 200
	// maxSourceText caps what one synthesis call receives.
	maxSourceText = 70000
	// minDescription below which a synthesis result is treated as a miss.
	minDescription = 30
	// maxResearchURLs caps how many search hits get scraped.
	maxResearchURLs = 3
)

const descPromptFmt = `You are an expert business analyst. Based only on the following text about the company %q, provide a concise business activity description.
Instructions:
1. Single paragraph, 5 to 8 sentences.
2. Summarize main activities, primary services or products, related companies if part of a group, ownership and industry.
3. Focus on what the company does.
4. Use neutral, factual language.
5. Do not start with "This company" - start directly with the description.
6. If insufficient information, respond with only "Insufficient information."

Extracted text for %q:
---
%s
---
Concise business activity description:`

// Service synthesizes descriptions with the generation backend, using an
// optional Researcher when statement text is not enough. A nil researcher
// skips the web step.
type Service struct {
	gen        genai.Client
	model      string
	researcher Researcher
}

func NewService(gen genai.Client, model string, researcher Researcher) *Service {
	return &Service{gen: gen, model: model, researcher: researcher}
}

// Describe never fails the pipeline: when every source comes up empty it
// returns a placeholder description and a nil error.
func (s *Service) Describe(ctx context.Context, in Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	searchName := extract.CleanNameForSearch(in.CompanyName)
	if searchName == "" {
		searchName = in.CompanyName
	}

	if len(in.FrontText) >= minFrontText {
		desc, err := s.synthesize(ctx, in.CompanyName, in.FrontText)
		if err == nil && desc != "" {
			return desc, nil
		}
		if err != nil && ctx.Err() != nil {
			return "", err
		}
		if err != nil {
			telemetry.Warn("enrich.synthesis_failed", map[string]any{"company": searchName, "source": "statements", "error": err.Error()})
		}
	}

	if s.researcher != nil {
		if desc := s.fromWeb(ctx, in, searchName); desc != "" {
			return desc, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	telemetry.Warn("enrich.no_description", map[string]any{"company": searchName})
	return fmt.Sprintf("Business description for %s could not be automatically generated.", searchName), nil
}

func (s *Service) fromWeb(ctx context.Context, in Input, searchName string) string {
	query := searchName + " company"
	if in.RegistrationNumber != "" {
		query += " " + in.RegistrationNumber
	}
	urls, err := s.researcher.Search(ctx, query)
	if err != nil {
		telemetry.Warn("enrich.search_failed", map[string]any{"company": searchName, "error": err.Error()})
		return ""
	}
	if len(urls) > maxResearchURLs {
		urls = urls[:maxResearchURLs]
	}

	var pages []string
	for _, u := range urls {
		md, err := s.researcher.Scrape(ctx, u)
		if err != nil {
			telemetry.Warn("enrich.scrape_failed", map[string]any{"url": u, "error": err.Error()})
			continue
		}
		if strings.TrimSpace(md) != "" {
			pages = append(pages, md)
		}
	}
	if len(pages) == 0 {
		return ""
	}

	desc, err := s.synthesize(ctx, in.CompanyName, strings.Join(pages, "\n\n---\n\n"))
	if err != nil {
		telemetry.Warn("enrich.synthesis_failed", map[string]any{"company": searchName, "source": "web", "error": err.Error()})
		return ""
	}
	return desc
}

// synthesize returns "" (no error) when the model reports insufficient
// information.
func (s *Service) synthesize(ctx context.Context, companyName, sourceText string) (string, error) {
	if len(sourceText) > maxSourceText {
		sourceText = sourceText[:maxSourceText]
	}
	prompt := fmt.Sprintf(descPromptFmt, companyName, companyName, sourceText)
	out, err := s.gen.Generate(ctx, genai.Request{
		Model: s.model,
		Parts: []genai.Part{genai.Text(prompt)},
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if len(out) < minDescription || strings.Contains(strings.ToLower(out), "insufficient information") {
		return "", nil
	}
	return out, nil
}
