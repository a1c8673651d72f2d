package audits

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"report-backend/internal/assessments"
	"report-backend/internal/genai"
	"report-backend/internal/shared/server/respond"
)

// Handler wires HTTP routes to the audit service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches audit routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/audits", h.run)
}

func (h *Handler) run(c *gin.Context) {
	in := RunInput{}
	if form, err := c.MultipartForm(); err == nil {
		in.AssessmentID = c.PostForm("assessment_id")
		in.RiskResearch = c.PostForm("risk_research")
		if files := form.File["risk_file"]; len(files) > 0 {
			f, err := files[0].Open()
			if err != nil {
				respond.Error(c, http.StatusBadRequest, assessments.ErrorCodeValidation, "failed to read risk file", nil)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				respond.Error(c, http.StatusBadRequest, assessments.ErrorCodeValidation, "failed to read risk file", nil)
				return
			}
			in.RiskFile = &assessments.Upload{
				FileName: files[0].Filename,
				MIMEType: files[0].Header.Get("Content-Type"),
				Data:     data,
			}
		}
	} else {
		var req struct {
			AssessmentID string `json:"assessmentId" binding:"required"`
			RiskResearch string `json:"riskResearch"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, assessments.ErrorCodeValidation, "assessmentId is required", nil)
			return
		}
		in.AssessmentID = req.AssessmentID
		in.RiskResearch = req.RiskResearch
	}
	if in.AssessmentID == "" {
		respond.Error(c, http.StatusBadRequest, assessments.ErrorCodeValidation, "assessment_id is required", nil)
		return
	}

	result, err := h.Svc.Run(c.Request.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, assessments.ErrNotFound):
			respond.Error(c, http.StatusNotFound, assessments.ErrorCodeNotFound, "assessment not found", nil)
		case errors.Is(err, ErrNoReport), errors.Is(err, assessments.ErrNotReviewable):
			respond.Error(c, http.StatusConflict, assessments.ErrorCodeConflict, "assessment has no generated report", nil)
		case errors.Is(err, genai.ErrBlocked), errors.Is(err, genai.ErrEmptyResponse),
			errors.Is(err, genai.ErrUploadFailed), errors.Is(err, genai.ErrFileNotReady):
			respond.Error(c, http.StatusBadGateway, assessments.ErrorCodeGeneration, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, assessments.ErrorCodeInternal, "failed to run audit", nil)
		}
		return
	}
	respond.OK(c, result)
}
