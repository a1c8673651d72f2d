package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ErrNoSections is returned when a generated document contains no reviewable
// sections. A zero-section report is a generation defect, not an empty report.
var ErrNoSections = errors.New("no sections found in document")

// Document is the split form of one generated HTML report. HeadHTML and
// BodyPrefix are carried through review unchanged; only Sections are
// reviewable.
type Document struct {
	HeadHTML   string
	BodyPrefix string
	Sections   []Section
}

// Section is one heading-delimited unit of the report.
type Section struct {
	ID    string
	Title string
	HTML  string
}

// Split parses a generated HTML report into sections at h2 boundaries.
//
// Handles two report structures the generator emits:
//   - Flat: h2 tags are direct children of body or a container div
//   - Paged: content is inside div.page wrappers, h2s inside pages
//
// The <head> block and any body content before the first h2 form the
// non-reviewable preamble. A document with no h2 headings fails with
// ErrNoSections.
func Split(htmlContent string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return Document{}, fmt.Errorf("parse document: %w", err)
	}

	var out Document
	if head := doc.Find("head"); head.Length() > 0 {
		headHTML, err := goquery.OuterHtml(head.First())
		if err != nil {
			return Document{}, fmt.Errorf("render head: %w", err)
		}
		out.HeadHTML = headHTML
	}

	body := doc.Find("body")
	if body.Length() == 0 || len(body.Nodes) == 0 {
		return Document{}, ErrNoSections
	}

	var elements []bodyElement
	collectElements(body.Nodes[0], &elements)

	var prefixParts []string
	var current []string
	var currentHeading *html.Node
	started := false

	flush := func() {
		if !started {
			if len(current) > 0 {
				prefixParts = append(prefixParts, current...)
			}
			current = nil
			return
		}
		out.Sections = append(out.Sections, buildSection(len(out.Sections), currentHeading, current))
		current = nil
	}

	for _, el := range elements {
		if el.node != nil && el.node.Type == html.ElementNode && el.node.Data == "h2" {
			flush()
			started = true
			currentHeading = el.node
		}
		current = append(current, el.html)
	}
	flush()

	if len(out.Sections) == 0 {
		return Document{}, ErrNoSections
	}

	out.BodyPrefix = strings.Join(prefixParts, "\n")
	return out, nil
}

type bodyElement struct {
	html string
	node *html.Node
}

// collectElements gathers content nodes in document order, flattening page
// wrapper divs so flat and paged reports split identically.
func collectElements(parent *html.Node, result *[]bodyElement) {
	for child := parent.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case html.TextNode:
			if strings.TrimSpace(child.Data) != "" {
				*result = append(*result, bodyElement{html: child.Data, node: child})
			}
		case html.ElementNode:
			if child.Data == "div" && hasClass(child, "page") {
				collectElements(child, result)
				continue
			}
			*result = append(*result, bodyElement{html: renderNode(child), node: child})
		}
	}
}

func buildSection(index int, heading *html.Node, parts []string) Section {
	sec := Section{
		ID:    fmt.Sprintf("section_%d", index),
		Title: fmt.Sprintf("Section %d", index+1),
		HTML:  strings.Join(parts, "\n"),
	}
	if heading == nil {
		return sec
	}
	if id := attrValue(heading, "id"); id != "" {
		sec.ID = id
	}
	if title := normalizeTitle(nodeText(heading)); title != "" {
		sec.Title = title
	}
	return sec
}

func renderNode(n *html.Node) string {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return ""
	}
	return sb.String()
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

// normalizeTitle collapses runs of whitespace so re-splitting a document that
// differs only in whitespace yields identical titles.
func normalizeTitle(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
