package assessments

import "time"

// Assessment phases. Complete is terminal; error is terminal for the
// generation run but the assessment can still be discarded.
const (
	PhaseGenerating = "generating"
	PhaseReview     = "review"
	PhaseComplete   = "complete"
	PhaseError      = "error"
)

// Section review statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// Input file kinds.
const (
	FileKindRatios    = "ratios"
	FileKindStatement = "statement"
	FileKindResearch  = "research"
)

// InputFile references one uploaded source document.
type InputFile struct {
	FileName   string `json:"fileName"`
	StorageKey string `json:"storageKey"`
	MIMEType   string `json:"mimeType"`
	SizeBytes  int64  `json:"sizeBytes"`
	Kind       string `json:"kind"`
}

// Section is one heading-delimited unit of the generated report.
// OriginalHTML is set once by the splitter and is the only basis for reset.
type Section struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	OriginalHTML string `json:"originalHtml"`
	HTML         string `json:"html"`
	Status       string `json:"status"`
}

// Edited reports whether the section's content differs from what the
// generation produced.
func (s Section) Edited() bool {
	return s.HTML != s.OriginalHTML
}

// Change is one entry of the review audit trail.
type Change struct {
	At           time.Time `json:"at"`
	Action       string    `json:"action"`
	SectionIndex int       `json:"sectionIndex"`
	Detail       string    `json:"detail,omitempty"`
}

// Assessment is one end-to-end run of the report pipeline.
type Assessment struct {
	ID               string         `json:"id"`
	Phase            string         `json:"phase"`
	ModelName        string         `json:"modelName"`
	SkipBusinessDesc bool           `json:"skipBusinessDesc"`
	ReportName       string         `json:"reportName"`
	CompanyName      string         `json:"companyName"`
	BusinessDesc     string         `json:"businessDesc,omitempty"`
	HeadHTML         string         `json:"-"`
	BodyPrefix       string         `json:"-"`
	Sections         []Section      `json:"sections"`
	Proposals        map[int]string `json:"proposals,omitempty"`
	InputFiles       []InputFile    `json:"inputFiles"`
	Changes          []Change       `json:"changes,omitempty"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	GeneratedAt      *time.Time     `json:"generatedAt,omitempty"`
	FinalizedAt      *time.Time     `json:"finalizedAt,omitempty"`
}

// SectionInRange reports whether idx addresses an existing section.
func (a *Assessment) SectionInRange(idx int) bool {
	return idx >= 0 && idx < len(a.Sections)
}

// AllApproved reports whether every section has been approved. An assessment
// with no sections is never all-approved.
func (a *Assessment) AllApproved() bool {
	if len(a.Sections) == 0 {
		return false
	}
	for _, s := range a.Sections {
		if s.Status != StatusApproved {
			return false
		}
	}
	return true
}

// Terminal reports whether the assessment accepts no further review actions.
func (a *Assessment) Terminal() bool {
	return a.Phase == PhaseComplete
}

// Clone returns a deep copy so callers can hand assessments across goroutine
// boundaries without aliasing the stored slices and maps.
func (a *Assessment) Clone() Assessment {
	out := *a
	if a.Sections != nil {
		out.Sections = make([]Section, len(a.Sections))
		copy(out.Sections, a.Sections)
	}
	if a.Proposals != nil {
		out.Proposals = make(map[int]string, len(a.Proposals))
		for k, v := range a.Proposals {
			out.Proposals[k] = v
		}
	}
	if a.InputFiles != nil {
		out.InputFiles = make([]InputFile, len(a.InputFiles))
		copy(out.InputFiles, a.InputFiles)
	}
	if a.Changes != nil {
		out.Changes = make([]Change, len(a.Changes))
		copy(out.Changes, a.Changes)
	}
	if a.GeneratedAt != nil {
		t := *a.GeneratedAt
		out.GeneratedAt = &t
	}
	if a.FinalizedAt != nil {
		t := *a.FinalizedAt
		out.FinalizedAt = &t
	}
	return out
}

func (a *Assessment) appendChange(action string, sectionIdx int, detail string) {
	a.Changes = append(a.Changes, Change{
		At:           time.Now().UTC(),
		Action:       action,
		SectionIndex: sectionIdx,
		Detail:       detail,
	})
}
