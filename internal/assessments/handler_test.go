package assessments

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	NewHandler(svc).RegisterRoutes(api, api.Group(""))
	return r
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestStartEndpoint(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	r := newTestRouter(t, svc)

	body, contentType := multipartBody(t,
		map[string]string{"report_name": "Acme Assessment"},
		map[string][]byte{"ratios.xlsx": []byte("xlsx"), "afs.pdf": []byte("%PDF")},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		AssessmentID string `json:"assessmentId"`
		Phase        string `json:"phase"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.AssessmentID == "" || resp.Phase != PhaseGenerating {
		t.Errorf("resp = %+v", resp)
	}

	awaitPhase(t, svc, resp.AssessmentID, PhaseReview)
}

func TestStartEndpointWithoutRatioFile(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	r := newTestRouter(t, svc)

	body, contentType := multipartBody(t, nil, map[string][]byte{"afs.pdf": []byte("%PDF")})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestStatusEndpointNotFound(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	r := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assessments/nope/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "NOT_FOUND") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSectionReviewOverHTTP(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	r := newTestRouter(t, svc)
	a := startAndAwaitReview(t, svc)

	// edit section 0
	payload, _ := json.Marshal(map[string]string{"html": "<h2>1. Profitability</h2><p>edited</p>"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/assessments/"+a.ID+"/sections/0", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body %s", w.Code, w.Body.String())
	}
	var sec sectionView
	if err := json.Unmarshal(w.Body.Bytes(), &sec); err != nil {
		t.Fatal(err)
	}
	if !sec.Edited || sec.Status != StatusPending {
		t.Errorf("section after edit = %+v", sec)
	}

	// approve it
	req = httptest.NewRequest(http.MethodPut, "/api/v1/assessments/"+a.ID+"/sections/0/approve", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("approve status = %d", w.Code)
	}

	// reset it
	req = httptest.NewRequest(http.MethodPut, "/api/v1/assessments/"+a.ID+"/sections/0/reset", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sec); err != nil {
		t.Fatal(err)
	}
	if sec.Edited || sec.Status != StatusPending {
		t.Errorf("section after reset = %+v", sec)
	}
}

func TestFinalizeConflictOverHTTP(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	r := newTestRouter(t, svc)
	a := startAndAwaitReview(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/"+a.ID+"/finalize", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}

	// approve-all then finalize succeeds
	req = httptest.NewRequest(http.MethodPut, "/api/v1/assessments/"+a.ID+"/approve-all", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("approve-all status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/assessments/"+a.ID+"/finalize", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("finalize status = %d, body %s", w.Code, w.Body.String())
	}

	// final document served as html
	req = httptest.NewRequest(http.MethodGet, "/api/v1/assessments/"+a.ID+"/report", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("report status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %s", ct)
	}
	if !strings.Contains(w.Body.String(), "<h2") {
		t.Error("report body missing sections")
	}
}

func TestAcceptWithoutProposalOverHTTP(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	r := newTestRouter(t, svc)
	a := startAndAwaitReview(t, svc)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/assessments/"+a.ID+"/sections/0/accept", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestReviseOverHTTP(t *testing.T) {
	gen := &stubGen{}
	svc := newTestService(t, gen)
	r := newTestRouter(t, svc)
	a := startAndAwaitReview(t, svc)

	gen.mu.Lock()
	gen.replies = []string{"<h2>2. Liquidity</h2><p>via http</p>"}
	gen.mu.Unlock()

	payload, _ := json.Marshal(map[string]any{"instruction": "tighten", "includeContext": false})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/"+a.ID+"/sections/1/revise", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Index    int    `json:"index"`
		Proposal string `json:"proposal"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Index != 1 || resp.Proposal == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestBadSectionIndexOverHTTP(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	r := newTestRouter(t, svc)
	a := startAndAwaitReview(t, svc)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/assessments/"+a.ID+"/sections/abc/approve", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDiscardOverHTTP(t *testing.T) {
	svc := newTestService(t, &stubGen{})
	r := newTestRouter(t, svc)
	a := startAndAwaitReview(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/assessments/"+a.ID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/assessments/"+a.ID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second discard status = %d, want 404", w.Code)
	}
}
