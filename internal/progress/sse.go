package progress

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const keepaliveInterval = 30 * time.Second

// StreamSSE writes a run's events to the client as server-sent events until
// the terminal event arrives or the client disconnects. Keepalive comments
// are interleaved so idle generation phases don't drop the connection;
// consumers ignore them.
func StreamSSE(c *gin.Context, run *Run) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev.Data)
			return !ev.Terminal()
		case <-ticker.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
