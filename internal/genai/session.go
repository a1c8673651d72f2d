package genai

import (
	"context"
	"sync"
	"time"

	"report-backend/internal/shared/telemetry"
)

// Session tracks files uploaded for one generation or revision call so they
// can be released unconditionally when the call finishes. Cleanup runs even
// when the owning assessment has already been discarded.
type Session struct {
	client Client

	mu    sync.Mutex
	files []FileHandle
}

// NewSession creates a Session bound to a client.
func NewSession(client Client) *Session {
	return &Session{client: client}
}

// Upload pushes a file and records its handle for later cleanup.
func (s *Session) Upload(ctx context.Context, upload Upload) (FileHandle, error) {
	handle, err := s.client.UploadFile(ctx, upload)
	if err != nil {
		return FileHandle{}, err
	}
	s.mu.Lock()
	s.files = append(s.files, handle)
	s.mu.Unlock()
	return handle, nil
}

// Cleanup deletes every tracked file. Best-effort: failures are logged and
// never surfaced, and the call does not depend on the caller's context still
// being alive.
func (s *Session) Cleanup() {
	s.mu.Lock()
	files := s.files
	s.files = nil
	s.mu.Unlock()

	if len(files) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, f := range files {
		if f.Name == "" {
			continue
		}
		if err := s.client.DeleteFile(ctx, f.Name); err != nil {
			telemetry.Warn("genai.cleanup_failed", map[string]any{
				"file":  f.Name,
				"error": err.Error(),
			})
		}
	}
}
