package compare

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"report-backend/internal/assessments"
	"report-backend/internal/genai"
	"report-backend/internal/shared/server/respond"
)

// Handler wires HTTP routes to the comparison service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches comparison routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/comparisons", h.run)
}

func (h *Handler) run(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, assessments.ErrorCodeValidation, "multipart form required", nil)
		return
	}
	assessmentID := c.PostForm("assessment_id")
	if assessmentID == "" {
		respond.Error(c, http.StatusBadRequest, assessments.ErrorCodeValidation, "assessment_id is required", nil)
		return
	}
	files := form.File["human_report"]
	if len(files) == 0 {
		respond.Error(c, http.StatusBadRequest, assessments.ErrorCodeValidation, "human_report file is required", nil)
		return
	}
	f, err := files[0].Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, assessments.ErrorCodeValidation, "failed to read human report", nil)
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, assessments.ErrorCodeValidation, "failed to read human report", nil)
		return
	}

	result, err := h.Svc.Run(c.Request.Context(), RunInput{
		AssessmentID: assessmentID,
		HumanReport: assessments.Upload{
			FileName: files[0].Filename,
			MIMEType: files[0].Header.Get("Content-Type"),
			Data:     data,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, assessments.ErrNotFound):
			respond.Error(c, http.StatusNotFound, assessments.ErrorCodeNotFound, "assessment not found", nil)
		case errors.Is(err, ErrNoReport), errors.Is(err, ErrNoBaseline), errors.Is(err, assessments.ErrNotReviewable):
			respond.Error(c, http.StatusConflict, assessments.ErrorCodeConflict, err.Error(), nil)
		case errors.Is(err, genai.ErrBlocked), errors.Is(err, genai.ErrEmptyResponse),
			errors.Is(err, genai.ErrUploadFailed), errors.Is(err, genai.ErrFileNotReady):
			respond.Error(c, http.StatusBadGateway, assessments.ErrorCodeGeneration, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, assessments.ErrorCodeInternal, "failed to run comparison", nil)
		}
		return
	}
	respond.OK(c, result)
}
