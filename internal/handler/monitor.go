package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var monitorUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// InstanceSnapshot is one frame of the monitor feed.
type InstanceSnapshot struct {
	Instance          string    `json:"instance"`
	ServerID          string    `json:"serverId"`
	Timestamp         time.Time `json:"timestamp"`
	UptimeSeconds     float64   `json:"uptimeSeconds"`
	ActiveConnections int       `json:"activeConnections"`
	StoredResults     int       `json:"storedResults"`
}

// Monitor upgrades to a websocket and streams this instance's live counters
// once a second until the peer goes away.
func (h *Handler) Monitor(c *gin.Context) {
	conn, err := monitorUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Sugar().Warnw("monitor upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Reads are only needed to notice the close handshake.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		active, err := h.dir.ActiveConnections(h.cfg.ServerID)
		if err != nil {
			return
		}
		snap := InstanceSnapshot{
			Instance:          h.cfg.Instance,
			ServerID:          h.cfg.ServerID,
			Timestamp:         time.Now().UTC(),
			UptimeSeconds:     time.Since(h.started).Seconds(),
			ActiveConnections: active,
			StoredResults:     h.store.Count(),
		}
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-c.Request.Context().Done():
			return
		}
	}
}
