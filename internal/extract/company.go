package extract

import (
	"path/filepath"
	"regexp"
	"strings"
)

// CompanyInfo is the identity sniffed from a statement's front pages.
type CompanyInfo struct {
	Name               string
	RegistrationNumber string
}

var regNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[Rr]egistration\s*(?:[Nn]umber|[Nn]o\.?)\s*[:;]?\s*(\d{4}/\d{5,7}/\d{2})`),
	regexp.MustCompile(`[Cc]ompany\s*[Rr]eg(?:istration)?\.?\s*(?:[Nn]o\.?|[Nn]umber)\s*[:;]?\s*(\d{4}/\d{5,7}/\d{2})`),
	regexp.MustCompile(`[Rr]eg\.?\s*[Nn]o\.?\s*[:;]?\s*(\d{4}/\d{5,7}/\d{2})`),
	regexp.MustCompile(`(\d{4}/\d{5,7}/\d{2})`),
}

// Name patterns tolerate OCR-joined text like "COMPANY(PTY)LTD".
var companyNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|\n)\s*([A-Z][A-Za-z\s&'-]{2,50}\s*\((?:PTY|Pty|pty)\)\s*(?:LTD|Ltd)\.?)`),
	regexp.MustCompile(`(?:^|\n)\s*([A-Z][A-Z\s&'-]{2,50}\(?(?:PTY|Pty)\)?\s*(?:LTD|Ltd)\.?)`),
	regexp.MustCompile(`(?:[Ff]inancial\s*[Ss]tatements?\s*(?:of|for)\s*)([A-Z][A-Za-z\s&'-]{2,60}(?:\(Pty\)\s*Ltd\.?|Limited)?)`),
	regexp.MustCompile(`(?:^|\n)\s*([A-Z][A-Za-z\s&'-]{2,50}(?:Proprietary\s+)?Limited)`),
}

var (
	ptyLtdJoined = regexp.MustCompile(`(?i)\(PTY\)\s*LTD`)
	ptyOnly      = regexp.MustCompile(`(?i)\(PTY\)`)
	ltdSuffix    = regexp.MustCompile(`(?i)LTD$`)
	spaces       = regexp.MustCompile(`\s+`)
	tightParen   = regexp.MustCompile(`\s*\(`)
)

// DetectCompany sniffs a company name and registration number from the front
// text of a financial statement. Either field may come back empty.
func DetectCompany(frontText string) CompanyInfo {
	var info CompanyInfo

	for _, p := range regNumberPatterns {
		if m := p.FindStringSubmatch(frontText); m != nil {
			info.RegistrationNumber = m[1]
			break
		}
	}

	for _, p := range companyNamePatterns {
		m := p.FindStringSubmatch(frontText)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		name = spaces.ReplaceAllString(name, " ")
		name = ptyLtdJoined.ReplaceAllString(name, "(Pty) Ltd")
		name = ptyOnly.ReplaceAllString(name, "(Pty)")
		name = ltdSuffix.ReplaceAllString(name, "Ltd")
		name = tightParen.ReplaceAllString(name, " (")
		name = strings.TrimSpace(name)
		if len(name) > 5 && len(name) < 100 {
			info.Name = name
			break
		}
	}

	return info
}

var (
	leadingDigits = regexp.MustCompile(`^\d+\s*\.?\s*`)
	legalSuffixes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s*\(Pty\)\s*Ltd\.?$`),
		regexp.MustCompile(`(?i)\s*Pty\s*Ltd\.?$`),
		regexp.MustCompile(`(?i)\s*(Proprietary\s+)?Limited$`),
		regexp.MustCompile(`(?i)\s*Ltd\.?$`),
	}
)

// NameFromFileName derives a fallback company name from an upload's file
// name: strip the extension, a leading numeric index, and legal suffixes.
func NameFromFileName(fileName string) string {
	stem := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	name := leadingDigits.ReplaceAllString(stem, "")
	name = strings.ReplaceAll(name, "_", " ")
	name = spaces.ReplaceAllString(name, " ")
	name = CleanNameForSearch(name)
	if name == "" {
		return "Unknown Company"
	}
	return name
}

// CleanNameForSearch strips legal suffixes while keeping the core name.
func CleanNameForSearch(fullName string) string {
	name := strings.TrimSpace(fullName)
	for _, p := range legalSuffixes {
		name = p.ReplaceAllString(name, "")
	}
	return strings.TrimSpace(name)
}
