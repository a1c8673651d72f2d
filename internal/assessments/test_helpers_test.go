package assessments

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"report-backend/internal/enrich"
	"report-backend/internal/genai"
	"report-backend/internal/progress"
	"report-backend/internal/shared/storage/object/local"
)

const testReportHTML = `<!DOCTYPE html>
<html lang="en">
<head><style>body { font-family: serif; }</style></head>
<body>
<h1>Financial Condition Assessment</h1>
<h2 id="profitability">1. Profitability</h2><p>Margins improved.</p>
<h2 id="liquidity">2. Liquidity</h2><p>Current ratio 1.4.</p>
<h2 id="solvency">3. Solvency</h2><p>Gearing moderate.</p>
<h2 id="efficiency">4. Efficiency</h2><p>Stock turn stable.</p>
<h2 id="conclusion">5. Conclusion</h2><p>Condition sound.</p>
</body>
</html>`

// stubGen is a scriptable generation backend. Replies are consumed in order;
// the last reply repeats. A non-nil gate is received from before each
// Generate call so tests can hold a call in flight.
type stubGen struct {
	mu      sync.Mutex
	replies []string
	err     error
	gate    chan struct{}

	generateCalls int
	uploads       int
	deleted       []string
	lastRequest   genai.Request
}

func (g *stubGen) Generate(ctx context.Context, req genai.Request) (string, error) {
	if g.gate != nil {
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generateCalls++
	g.lastRequest = req
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return testReportHTML, nil
	}
	reply := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return reply, nil
}

func (g *stubGen) UploadFile(ctx context.Context, up genai.Upload) (genai.FileHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads++
	return genai.FileHandle{Name: "files/" + up.DisplayName, URI: "uri/" + up.DisplayName, MIMEType: up.MIMEType}, nil
}

func (g *stubGen) DeleteFile(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, name)
	return nil
}

func (g *stubGen) deletedFiles() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.deleted))
	copy(out, g.deleted)
	return out
}

type stubParser struct{}

func (stubParser) ParseToMarkdown(ctx context.Context, fileName string, data []byte) (string, error) {
	return "| Ratio | 2025 |\n|---|---|\n| Current | 1.4 |", nil
}

type stubDescriber struct{}

func (stubDescriber) Describe(ctx context.Context, in enrich.Input) (string, error) {
	return "Distributes widgets nationally.", nil
}

func newTestService(t *testing.T, gen *stubGen) *Service {
	t.Helper()
	return &Service{
		Repo:         NewMemoryRepo(),
		Store:        local.New(t.TempDir()),
		Gen:          gen,
		Parser:       stubParser{},
		Describer:    stubDescriber{},
		Broker:       progress.NewBroker(),
		ReportModel:  "report-model",
		SectionModel: "section-model",
	}
}

func startAndAwaitReview(t *testing.T, svc *Service) Assessment {
	t.Helper()
	a, err := svc.Start(context.Background(), StartInput{
		ReportName: "Acme Assessment",
		Files: []Upload{
			{FileName: "acme ratios.xlsx", MIMEType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Data: []byte("xlsx")},
			{FileName: "acme afs.pdf", MIMEType: "application/pdf", Data: []byte("%PDF-fake")},
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return awaitPhase(t, svc, a.ID, PhaseReview)
}

func awaitPhase(t *testing.T, svc *Service, id, phase string) Assessment {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		a, err := svc.Get(context.Background(), id)
		if err == nil && a.Phase == phase {
			return a
		}
		if err == nil && a.Phase == PhaseError && phase != PhaseError {
			t.Fatalf("assessment entered error phase: %s", a.ErrorMessage)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("assessment %s never reached phase %s", id, phase)
	return Assessment{}
}

func drainEvents(run *progress.Run) []progress.Event {
	var out []progress.Event
	for ev := range run.Events() {
		out = append(out, ev)
	}
	return out
}

func containsStage(events []progress.Event, name string) bool {
	for _, ev := range events {
		if ev.Kind == progress.KindStage && strings.Contains(ev.Data, name) {
			return true
		}
	}
	return false
}
