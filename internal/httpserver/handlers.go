package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/wildwatch-go/internal/agent"
	"github.com/tphakala/wildwatch-go/internal/debounce"
	"github.com/tphakala/wildwatch-go/internal/logger"
	"github.com/tphakala/wildwatch-go/internal/monitor"
)

// HealthResponse is the body of /api/v1/health.
type HealthResponse struct {
	Status        string                `json:"status"`
	Version       string                `json:"version"`
	Uptime        string                `json:"uptime"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	Timestamp     string                `json:"timestamp"`
	Agent         agent.Status          `json:"agent"`
	Disk          []monitor.MountStatus `json:"disk,omitempty"`
}

// TracksResponse is the body of /api/v1/tracks.
type TracksResponse struct {
	Tracks []debounce.ClassTrackState `json:"tracks"`
}

// health reports "degraded" when the last relay run failed; the agent
// itself keeps running in that case
func (s *Server) health(c echo.Context) error {
	now := s.now()
	st := s.config.Status.Status()
	uptime := now.Sub(st.StartedAt)

	resp := HealthResponse{
		Status:        "healthy",
		Version:       s.config.Version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Timestamp:     now.UTC().Format(time.RFC3339),
		Agent:         st,
	}
	if st.LastRelay != nil && st.LastRelay.Error != "" {
		resp.Status = "degraded"
	}

	if s.config.Disk != nil {
		disk, err := s.config.Disk()
		if err != nil {
			s.log.Debug("disk status unavailable", logger.Error(err))
		}
		resp.Disk = disk
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) tracks(c echo.Context) error {
	tracks := s.config.Status.Tracks()
	if tracks == nil {
		tracks = []debounce.ClassTrackState{}
	}
	return c.JSON(http.StatusOK, TracksResponse{Tracks: tracks})
}
