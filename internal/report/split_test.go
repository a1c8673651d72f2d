package report

import (
	"errors"
	"strings"
	"testing"
)

const flatReport = `<!DOCTYPE html>
<html lang="en">
<head><style>body { font-family: serif; }</style></head>
<body>
<h1>Financial Condition Assessment</h1>
<h2 id="overview">1. Company Overview</h2>
<p>The company operates in logistics.</p>
<h2 id="profitability">2. Profitability</h2>
<p>Margins improved year on year.</p>
<table><tbody><tr><td>Gross margin</td><td>41%</td></tr></tbody></table>
<h2 id="conclusion">3. Conclusion</h2>
<p>Overall condition is sound.</p>
</body>
</html>`

func TestSplitFlatReport(t *testing.T) {
	doc, err := Split(flatReport)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(doc.Sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Title != "1. Company Overview" {
		t.Fatalf("unexpected first title %q", doc.Sections[0].Title)
	}
	if doc.Sections[0].ID != "overview" {
		t.Fatalf("expected heading id carried to section, got %q", doc.Sections[0].ID)
	}
	if !strings.Contains(doc.HeadHTML, "font-family") {
		t.Fatalf("expected styles in head fragment, got %q", doc.HeadHTML)
	}
	if !strings.Contains(doc.BodyPrefix, "<h1>") {
		t.Fatalf("expected h1 in body prefix, got %q", doc.BodyPrefix)
	}
	if !strings.Contains(doc.Sections[1].HTML, "<table>") {
		t.Fatalf("expected table inside second section, got %q", doc.Sections[1].HTML)
	}
	for _, sec := range doc.Sections {
		if !strings.HasPrefix(sec.HTML, "<h2") {
			t.Fatalf("section %q should start with its heading, got %q", sec.Title, sec.HTML)
		}
	}
}

func TestSplitPagedReportFlattensWrappers(t *testing.T) {
	paged := `<html><head></head><body>
<div class="page"><h2>First</h2><p>one</p></div>
<div class="page"><h2>Second</h2><p>two</p></div>
</body></html>`

	doc, err := Split(paged)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Title != "First" || doc.Sections[1].Title != "Second" {
		t.Fatalf("unexpected titles %q / %q", doc.Sections[0].Title, doc.Sections[1].Title)
	}
	if strings.Contains(doc.Sections[0].HTML, "class=\"page\"") {
		t.Fatalf("page wrapper should be flattened away, got %q", doc.Sections[0].HTML)
	}
}

func TestSplitNoHeadingsFails(t *testing.T) {
	_, err := Split(`<html><head></head><body><p>just a paragraph</p></body></html>`)
	if !errors.Is(err, ErrNoSections) {
		t.Fatalf("expected ErrNoSections, got %v", err)
	}

	_, err = Split("")
	if !errors.Is(err, ErrNoSections) {
		t.Fatalf("expected ErrNoSections for empty input, got %v", err)
	}
}

func TestSplitEmptyHeadingGetsPlaceholderTitle(t *testing.T) {
	doc, err := Split(`<html><body><h2></h2><p>content</p></body></html>`)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(doc.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Title != "Section 1" {
		t.Fatalf("expected positional placeholder title, got %q", doc.Sections[0].Title)
	}
}

func TestRoundTrip(t *testing.T) {
	doc, err := Split(flatReport)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	again, err := Split(Assemble(doc))
	if err != nil {
		t.Fatalf("re-split: %v", err)
	}

	if len(again.Sections) != len(doc.Sections) {
		t.Fatalf("section count changed: %d -> %d", len(doc.Sections), len(again.Sections))
	}
	for i := range doc.Sections {
		if again.Sections[i].Title != doc.Sections[i].Title {
			t.Fatalf("section %d title changed: %q -> %q", i, doc.Sections[i].Title, again.Sections[i].Title)
		}
		if again.Sections[i].HTML != doc.Sections[i].HTML {
			t.Fatalf("section %d html changed:\n%q\n%q", i, doc.Sections[i].HTML, again.Sections[i].HTML)
		}
	}
	if again.HeadHTML != doc.HeadHTML {
		t.Fatalf("head fragment changed:\n%q\n%q", doc.HeadHTML, again.HeadHTML)
	}
}

func TestSplitWhitespaceInsensitive(t *testing.T) {
	spaced := strings.ReplaceAll(flatReport, "\n<h2", "\n\n   <h2")
	doc, err := Split(flatReport)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	other, err := Split(spaced)
	if err != nil {
		t.Fatalf("split spaced: %v", err)
	}
	if len(doc.Sections) != len(other.Sections) {
		t.Fatalf("section count differs under whitespace changes: %d vs %d", len(doc.Sections), len(other.Sections))
	}
	for i := range doc.Sections {
		if doc.Sections[i].Title != other.Sections[i].Title {
			t.Fatalf("title %d differs: %q vs %q", i, doc.Sections[i].Title, other.Sections[i].Title)
		}
	}
}
