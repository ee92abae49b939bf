package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/netmeasure/speedster/internal/directory"
	"github.com/netmeasure/speedster/pkg/model"
	"go.uber.org/zap"
)

// clientCoords reads the optional lat/lon query pair. Both must parse for a
// geo hint to exist; otherwise selection falls back to the primary server.
func clientCoords(c *gin.Context) *model.Coordinates {
	latRaw, lonRaw := c.Query("lat"), c.Query("lon")
	if latRaw == "" || lonRaw == "" {
		return nil
	}
	lat, err1 := strconv.ParseFloat(latRaw, 64)
	lon, err2 := strconv.ParseFloat(lonRaw, 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &model.Coordinates{Lat: lat, Lon: lon}
}

// Servers lists the directory, ranked by distance when a geo hint is given.
func (h *Handler) Servers(c *gin.Context) {
	c.JSON(http.StatusOK, h.dir.List(clientCoords(c)))
}

// OptimalServer returns the nearest online server, or the primary when the
// client's location is unknown.
func (h *Handler) OptimalServer(c *gin.Context) {
	server, err := h.dir.Optimal(clientCoords(c))
	if err == directory.ErrNoOnlineServer {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, server)
}

// SaveResult stores a client-constructed result. The server fills in client
// identity metadata and assigns the authoritative id and timestamp when the
// payload carries none.
func (h *Handler) SaveResult(c *gin.Context) {
	var result model.TestResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if result.ClientIP == "" {
		result.ClientIP = c.ClientIP()
	}
	if result.UserAgent == "" {
		result.UserAgent = c.Request.UserAgent()
	}
	id := h.store.Submit(&result)
	zap.L().Sugar().Infow("result stored",
		"id", id,
		"server", result.ServerID,
		"ping", result.Ping,
		"download", result.Download,
		"upload", result.Upload)
	c.JSON(http.StatusOK, model.SaveResponse{ID: id, Success: true})
}

// GetResult fetches one stored result. Unknown ids are a structured miss.
func (h *Handler) GetResult(c *gin.Context) {
	result, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ServerStats joins the directory with the accumulated per-server averages.
func (h *Handler) ServerStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.StatsSnapshot(h.dir.List(nil)))
}
