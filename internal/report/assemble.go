package report

import "strings"

// Assemble rebuilds the complete HTML document from a split report. Pure and
// deterministic: head, body prefix, then each section's current HTML in
// index order.
func Assemble(doc Document) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n")
	if doc.HeadHTML != "" {
		sb.WriteString(doc.HeadHTML)
		sb.WriteString("\n")
	}
	sb.WriteString("<body>\n")
	if doc.BodyPrefix != "" {
		sb.WriteString(doc.BodyPrefix)
		sb.WriteString("\n")
	}
	for i, sec := range doc.Sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(sec.HTML)
	}
	sb.WriteString("\n</body>\n</html>")
	return sb.String()
}
