package assessments

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"report-backend/internal/genai"
	"report-backend/internal/parse"
	"report-backend/internal/progress"
	"report-backend/internal/shared/server/respond"
)

// maxUploadBytes caps one submission's multipart payload.
const maxUploadBytes = 64 << 20

// Handler wires HTTP routes to the assessments service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches assessment routes to the router group. poll takes
// the rate-limited status-polling endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, poll *gin.RouterGroup) {
	rg.POST("/assessments", h.start)
	rg.GET("/assessments", h.list)
	rg.GET("/assessments/:id/events", h.events)
	rg.GET("/assessments/:id/sections", h.sections)
	rg.GET("/assessments/:id/report", h.reportDocument)
	rg.PUT("/assessments/:id/sections/:idx", h.editSection)
	rg.PUT("/assessments/:id/sections/:idx/approve", h.approveSection)
	rg.PUT("/assessments/:id/sections/:idx/reset", h.resetSection)
	rg.POST("/assessments/:id/sections/:idx/revise", h.revise)
	rg.PUT("/assessments/:id/sections/:idx/accept", h.acceptProposal)
	rg.PUT("/assessments/:id/sections/:idx/reject", h.rejectProposal)
	rg.PUT("/assessments/:id/approve-all", h.approveAll)
	rg.POST("/assessments/:id/finalize", h.finalize)
	rg.DELETE("/assessments/:id", h.discard)

	poll.GET("/assessments/:id/status", h.status)
}

type statusView struct {
	ID           string `json:"id"`
	Phase        string `json:"phase"`
	ReportName   string `json:"reportName"`
	CompanyName  string `json:"companyName"`
	Sections     int    `json:"sections"`
	Approved     int    `json:"approved"`
	Edited       int    `json:"edited"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

type sectionView struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Title    string `json:"title"`
	HTML     string `json:"html"`
	Status   string `json:"status"`
	Edited   bool   `json:"edited"`
	Proposal string `json:"proposal,omitempty"`
}

func toStatusView(a Assessment) statusView {
	approved, edited := 0, 0
	for _, s := range a.Sections {
		if s.Status == StatusApproved {
			approved++
		}
		if s.Edited() {
			edited++
		}
	}
	return statusView{
		ID:           a.ID,
		Phase:        a.Phase,
		ReportName:   a.ReportName,
		CompanyName:  a.CompanyName,
		Sections:     len(a.Sections),
		Approved:     approved,
		Edited:       edited,
		ErrorMessage: a.ErrorMessage,
		CreatedAt:    a.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toSectionViews(a Assessment) []sectionView {
	out := make([]sectionView, len(a.Sections))
	for i, s := range a.Sections {
		out[i] = sectionView{
			Index:    i,
			ID:       s.ID,
			Title:    s.Title,
			HTML:     s.HTML,
			Status:   s.Status,
			Edited:   s.Edited(),
			Proposal: a.Proposals[i],
		}
	}
	return out
}

func (h *Handler) start(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "multipart form required", nil)
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "at least one file is required", nil)
		return
	}

	files, err := readUploads(headers)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "failed to read upload", nil)
		return
	}
	skip, _ := strconv.ParseBool(c.PostForm("skip_business_desc"))

	a, err := h.Svc.Start(c.Request.Context(), StartInput{
		ReportName:       c.PostForm("report_name"),
		ModelName:        c.PostForm("model"),
		SkipBusinessDesc: skip,
		Files:            files,
	})
	if err != nil {
		if errors.Is(err, ErrNoRatioFile) {
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "a ratio spreadsheet (.xlsx/.xlsm) is required", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to start assessment", nil)
		return
	}

	respond.Accepted(c, gin.H{
		"assessmentId": a.ID,
		"phase":        a.Phase,
	})
}

func readUploads(headers []*multipart.FileHeader) ([]Upload, error) {
	files := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, Upload{
			FileName: fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return files, nil
}

func (h *Handler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	all, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to list assessments", nil)
		return
	}
	views := make([]statusView, len(all))
	for i, a := range all {
		views[i] = toStatusView(a)
	}
	respond.OK(c, gin.H{"assessments": views})
}

func (h *Handler) status(c *gin.Context) {
	a, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondErr(c, err, "failed to fetch assessment")
		return
	}
	respond.OK(c, toStatusView(a))
}

func (h *Handler) events(c *gin.Context) {
	id := c.Param("id")
	run, ok := h.Svc.Broker.Get(id)
	if !ok {
		respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "no active run for assessment", nil)
		return
	}
	progress.StreamSSE(c, run)
}

func (h *Handler) sections(c *gin.Context) {
	a, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondErr(c, err, "failed to fetch sections")
		return
	}
	respond.OK(c, gin.H{
		"phase":    a.Phase,
		"sections": toSectionViews(a),
	})
}

func (h *Handler) reportDocument(c *gin.Context) {
	html, err := h.Svc.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondErr(c, err, "failed to assemble report")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

type editRequest struct {
	HTML string `json:"html" binding:"required"`
}

func (h *Handler) editSection(c *gin.Context) {
	idx, ok := h.sectionIndex(c)
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "html is required", nil)
		return
	}
	a, err := h.Svc.EditSection(c.Request.Context(), c.Param("id"), idx, req.HTML)
	if err != nil {
		h.respondErr(c, err, "failed to edit section")
		return
	}
	respond.OK(c, toSectionViews(a)[idx])
}

func (h *Handler) approveSection(c *gin.Context) {
	idx, ok := h.sectionIndex(c)
	if !ok {
		return
	}
	a, err := h.Svc.ApproveSection(c.Request.Context(), c.Param("id"), idx)
	if err != nil {
		h.respondErr(c, err, "failed to approve section")
		return
	}
	respond.OK(c, toSectionViews(a)[idx])
}

func (h *Handler) resetSection(c *gin.Context) {
	idx, ok := h.sectionIndex(c)
	if !ok {
		return
	}
	a, err := h.Svc.ResetSection(c.Request.Context(), c.Param("id"), idx)
	if err != nil {
		h.respondErr(c, err, "failed to reset section")
		return
	}
	respond.OK(c, toSectionViews(a)[idx])
}

func (h *Handler) revise(c *gin.Context) {
	idx, ok := h.sectionIndex(c)
	if !ok {
		return
	}

	var in ProposeInput
	if form, err := c.MultipartForm(); err == nil {
		in.Instruction = c.PostForm("instruction")
		in.IncludeContext, _ = strconv.ParseBool(c.PostForm("include_context"))
		evidence, rerr := readUploads(form.File["evidence"])
		if rerr != nil {
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "failed to read evidence upload", nil)
			return
		}
		in.Evidence = evidence
	} else {
		var req struct {
			Instruction    string `json:"instruction" binding:"required"`
			IncludeContext bool   `json:"includeContext"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "instruction is required", nil)
			return
		}
		in.Instruction = req.Instruction
		in.IncludeContext = req.IncludeContext
	}
	if in.Instruction == "" {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "instruction is required", nil)
		return
	}

	proposed, err := h.Svc.Propose(c.Request.Context(), c.Param("id"), idx, in)
	if err != nil {
		switch {
		case errors.Is(err, genai.ErrBlocked), errors.Is(err, genai.ErrEmptyResponse),
			errors.Is(err, genai.ErrUploadFailed), errors.Is(err, genai.ErrFileNotReady),
			errors.Is(err, parse.ErrParseFailed):
			respond.Error(c, http.StatusBadGateway, ErrorCodeGeneration, err.Error(), nil)
		default:
			h.respondErr(c, err, "failed to generate revision")
		}
		return
	}
	respond.OK(c, gin.H{"index": idx, "proposal": proposed})
}

type acceptRequest struct {
	HTML string `json:"html"`
}

func (h *Handler) acceptProposal(c *gin.Context) {
	idx, ok := h.sectionIndex(c)
	if !ok {
		return
	}
	var req acceptRequest
	// body is optional: an empty accept takes the stored proposal verbatim
	_ = c.ShouldBindJSON(&req)

	a, err := h.Svc.AcceptProposal(c.Request.Context(), c.Param("id"), idx, req.HTML)
	if err != nil {
		h.respondErr(c, err, "failed to accept proposal")
		return
	}
	respond.OK(c, toSectionViews(a)[idx])
}

func (h *Handler) rejectProposal(c *gin.Context) {
	idx, ok := h.sectionIndex(c)
	if !ok {
		return
	}
	a, err := h.Svc.RejectProposal(c.Request.Context(), c.Param("id"), idx)
	if err != nil {
		h.respondErr(c, err, "failed to reject proposal")
		return
	}
	respond.OK(c, toSectionViews(a)[idx])
}

func (h *Handler) approveAll(c *gin.Context) {
	a, err := h.Svc.ApproveAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondErr(c, err, "failed to approve sections")
		return
	}
	respond.OK(c, gin.H{"phase": a.Phase, "sections": toSectionViews(a)})
}

func (h *Handler) finalize(c *gin.Context) {
	a, err := h.Svc.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondErr(c, err, "failed to finalize assessment")
		return
	}
	respond.OK(c, toStatusView(a))
}

func (h *Handler) discard(c *gin.Context) {
	if err := h.Svc.Discard(c.Request.Context(), c.Param("id")); err != nil {
		h.respondErr(c, err, "failed to discard assessment")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) sectionIndex(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "section index must be a non-negative integer", nil)
		return 0, false
	}
	return idx, true
}

func (h *Handler) respondErr(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "assessment not found", nil)
	case errors.Is(err, ErrInvalidSection):
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid section index", nil)
	case errors.Is(err, ErrNotReviewable):
		respond.Error(c, http.StatusConflict, ErrorCodeConflict, err.Error(), nil)
	case errors.Is(err, ErrNotAllApproved):
		respond.Error(c, http.StatusConflict, ErrorCodeConflict, "all sections must be approved before finalizing", nil)
	case errors.Is(err, ErrNoProposal):
		respond.Error(c, http.StatusConflict, ErrorCodeConflict, "no pending proposal for section", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, fallback, nil)
	}
}
