// Package prompts loads YAML-stored prompt sections and assembles the
// multi-part prompts sent to the generation backend. Builders are pure:
// same inputs, same parts.
package prompts

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"report-backend/internal/genai"
)

//go:embed defs/*.yaml
var defsFS embed.FS

// Section is one named block of prompt text.
type Section struct {
	Key     string `yaml:"key"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// Set is an ordered collection of prompt sections loaded from one YAML file.
type Set struct {
	Name     string    `yaml:"name"`
	Sections []Section `yaml:"sections"`
}

// Get returns the content of the section with the given key, or "" when the
// set has no such section.
func (s Set) Get(key string) string {
	for _, sec := range s.Sections {
		if sec.Key == key {
			return strings.TrimSpace(sec.Content)
		}
	}
	return ""
}

// Text joins all section contents in file order.
func (s Set) Text() string {
	parts := make([]string, 0, len(s.Sections))
	for _, sec := range s.Sections {
		parts = append(parts, strings.TrimSpace(sec.Content))
	}
	return strings.Join(parts, "\n\n")
}

// Load parses defs/<name>.yaml from the embedded set.
func Load(name string) (Set, error) {
	raw, err := defsFS.ReadFile("defs/" + name + ".yaml")
	if err != nil {
		return Set{}, fmt.Errorf("prompts: read %s: %w", name, err)
	}
	var s Set
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Set{}, fmt.Errorf("prompts: parse %s: %w", name, err)
	}
	if len(s.Sections) == 0 {
		return Set{}, fmt.Errorf("prompts: %s has no sections", name)
	}
	return s, nil
}

// MustLoad is Load for embedded sets that must exist; it panics on error and
// is intended for package-level initialization.
func MustLoad(name string) Set {
	s, err := Load(name)
	if err != nil {
		panic(err)
	}
	return s
}

var (
	reportInstructions  = MustLoad("report_instructions")
	sectionUpdate       = MustLoad("section_update")
	auditCriteria       = MustLoad("audit_criteria")
	comparisonCriteria  = MustLoad("comparison_criteria")
	guidanceSynthesis   = MustLoad("guidance_synthesis")
	guidanceDiagnostics = MustLoad("guidance_diagnostics")
)

func block(label, body string) genai.Part {
	return genai.Text(fmt.Sprintf("--- BEGIN %s ---\n%s\n--- END %s ---", label, body, label))
}

// Scope selects how much of the report a revision prompt carries as context.
type Scope int

const (
	// ScopeSection sends only the target section.
	ScopeSection Scope = iota
	// ScopeDocument sends the whole report and marks the target section.
	ScopeDocument
)

// ExampleSet pairs an uploaded ratio file with its finished example report.
type ExampleSet struct {
	Ratios genai.FileHandle
	Report genai.FileHandle
}

// ReportInput carries everything the initial-generation prompt needs.
type ReportInput struct {
	CompanyName  string
	BusinessDesc string
	Research     string
	Ratios       genai.FileHandle
	Statements   []genai.FileHandle
	Examples     []ExampleSet
}

// BuildReportPrompt assembles the initial whole-report generation prompt.
func BuildReportPrompt(in ReportInput) []genai.Part {
	parts := []genai.Part{
		genai.Text(reportInstructions.Get("role_definition")),
		genai.Text(reportInstructions.Get("guidance_preamble")),
		block("GUIDANCE: SYNTHESIS FRAMEWORK", guidanceSynthesis.Text()),
		block("GUIDANCE: DIAGNOSTIC CRITERIA", guidanceDiagnostics.Text()),
	}
	if len(in.Examples) > 0 {
		parts = append(parts, genai.Text(reportInstructions.Get("examples_preamble")))
		for i, ex := range in.Examples {
			parts = append(parts,
				genai.Text(fmt.Sprintf("Example set %d, input ratio file:", i+1)),
				genai.File(ex.Ratios),
				genai.Text(fmt.Sprintf("Example set %d, finished report:", i+1)),
				genai.File(ex.Report),
			)
		}
	}
	parts = append(parts, genai.Text(reportInstructions.Get("target_inputs_preamble")))
	if in.BusinessDesc != "" {
		parts = append(parts, block("BUSINESS DESCRIPTION", in.BusinessDesc))
	}
	if in.Research != "" {
		parts = append(parts, block("SUPPLEMENTARY RESEARCH", in.Research))
	}
	parts = append(parts, genai.Text("Target company ratio file:"), genai.File(in.Ratios))
	for _, st := range in.Statements {
		parts = append(parts, genai.Text("Audited financial statements:"), genai.File(st))
	}
	overall := strings.ReplaceAll(reportInstructions.Get("overall_conclusion"), "{company_name}", in.CompanyName)
	parts = append(parts,
		genai.Text(reportInstructions.Get("output_format")),
		genai.Text(reportInstructions.Get("section_conclusions")),
		genai.Text(reportInstructions.Get("mandatory_calculations")),
		genai.Text(overall),
		genai.Text(reportInstructions.Get("citation_rules")),
	)
	return parts
}

// RevisionInput carries one section-revision request. DocumentHTML is only
// consulted when Scope is ScopeDocument.
type RevisionInput struct {
	Scope        Scope
	SectionHTML  string
	DocumentHTML string
	Instruction  string
	Evidence     []genai.FileHandle
}

// BuildRevisionPrompt assembles a section-revision prompt. The same builder
// serves single-section and whole-document context; only the scope block and
// context blocks differ.
func BuildRevisionPrompt(in RevisionInput) []genai.Part {
	parts := []genai.Part{genai.Text(sectionUpdate.Get("role_definition"))}
	switch in.Scope {
	case ScopeDocument:
		parts = append(parts,
			genai.Text(sectionUpdate.Get("scope_document")),
			block("FULL REPORT", in.DocumentHTML),
		)
	default:
		parts = append(parts, genai.Text(sectionUpdate.Get("scope_section")))
	}
	parts = append(parts, block("TARGET SECTION", in.SectionHTML))
	for _, ev := range in.Evidence {
		parts = append(parts, genai.Text("Source document:"), genai.File(ev))
	}
	if len(in.Evidence) > 0 {
		parts = append(parts, genai.Text(sectionUpdate.Get("evidence_rules")))
	}
	parts = append(parts,
		block("REVIEWER INSTRUCTION", in.Instruction),
		genai.Text(sectionUpdate.Get("output_format")),
	)
	return parts
}

// AuditInput carries one report-audit request.
type AuditInput struct {
	ReportHTML   string
	ReportName   string
	RiskResearch string
	Sources      []genai.FileHandle
}

// BuildAuditPrompt assembles the independent-audit prompt.
func BuildAuditPrompt(in AuditInput) []genai.Part {
	parts := []genai.Part{
		genai.Text(auditCriteria.Get("role_definition")),
		block("REPORT UNDER AUDIT: "+in.ReportName, in.ReportHTML),
	}
	for _, src := range in.Sources {
		parts = append(parts, genai.Text("Source document:"), genai.File(src))
	}
	if in.RiskResearch != "" {
		parts = append(parts, block("RISK RESEARCH NOTES", in.RiskResearch))
	}
	parts = append(parts,
		genai.Text(auditCriteria.Get("numeric_accuracy")),
		genai.Text(auditCriteria.Get("completeness")),
		genai.Text(auditCriteria.Get("internal_consistency")),
	)
	if in.RiskResearch != "" {
		parts = append(parts, genai.Text(auditCriteria.Get("risk_coverage")))
	}
	parts = append(parts, genai.Text(auditCriteria.Get("output_format")))
	return parts
}

// ComparisonInput carries one machine-vs-human report comparison.
type ComparisonInput struct {
	GeneratedHTML string
	HumanReport   genai.FileHandle
	Statements    []genai.FileHandle
}

// BuildComparisonPrompt assembles the report-comparison prompt.
func BuildComparisonPrompt(in ComparisonInput) []genai.Part {
	parts := []genai.Part{
		genai.Text(comparisonCriteria.Get("role_definition")),
		block("MACHINE-GENERATED REPORT", in.GeneratedHTML),
		genai.Text("Human-written report:"),
		genai.File(in.HumanReport),
	}
	for _, st := range in.Statements {
		parts = append(parts, genai.Text("Audited financial statements:"), genai.File(st))
	}
	parts = append(parts,
		genai.Text(comparisonCriteria.Get("factual_agreement")),
		genai.Text(comparisonCriteria.Get("coverage")),
		genai.Text(comparisonCriteria.Get("output_format")),
	)
	return parts
}
