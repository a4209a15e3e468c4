package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"arbwatch/internal/database"
	"arbwatch/internal/model"
	"arbwatch/internal/monitor"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// defaultWindow is used when a query omits "from".
const defaultWindow = time.Hour

type statusResponse struct {
	Running   bool                              `json:"running"`
	RunID     string                            `json:"run_id,omitempty"`
	Exchanges map[string]model.ConnectionStatus `json:"exchanges"`
}

func (s *Server) status() statusResponse {
	return statusResponse{
		Running:   s.monitor.Running(),
		RunID:     s.monitor.RunID(),
		Exchanges: s.state.GetStatus(),
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) getPrices(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.GetPrices())
}

func (s *Server) startMonitor(c *gin.Context) {
	s.monitor.Start()
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) stopMonitor(c *gin.Context) {
	if err := s.monitor.Stop(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, monitor.ErrStopTimeout) {
			code = http.StatusGatewayTimeout
		}
		s.logger.Error("failed to stop monitor", zap.Error(err))
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) listEvents(c *gin.Context) {
	from, to, err := s.window(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	f := database.EventFilter{
		From:      from,
		To:        to,
		Symbol:    c.Query("symbol"),
		Direction: c.Query("direction"),
	}
	if raw := c.Query("min_net_pct"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, fmt.Errorf("min_net_pct: %w", err))
			return
		}
		f.MinNetPct = &v
	}

	events, err := s.queries.ListEvents(c.Request.Context(), f)
	if err != nil {
		s.internalError(c, "list events", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(events))
}

func (s *Server) listSnapshots(c *gin.Context) {
	from, to, err := s.window(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	snapshots, err := s.queries.ListSnapshots(c.Request.Context(), database.SnapshotFilter{
		From:     from,
		To:       to,
		Symbol:   c.Query("symbol"),
		Exchange: c.Query("exchange"),
	})
	if err != nil {
		s.internalError(c, "list snapshots", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(snapshots))
}

func (s *Server) listMetrics(c *gin.Context) {
	from, to, err := s.window(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	metrics, err := s.queries.ListMetrics(c.Request.Context(), database.MetricFilter{
		From:      from,
		To:        to,
		Symbol:    c.Query("symbol"),
		Direction: c.Query("direction"),
	})
	if err != nil {
		s.internalError(c, "list metrics", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(metrics))
}

// window parses the RFC3339 "from" and "to" parameters. "to" defaults to now
// and "from" to one hour before "to".
func (s *Server) window(c *gin.Context) (time.Time, time.Time, error) {
	to := s.now().UTC()
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
		}
		to = t
	}
	from := to.Add(-defaultWindow)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
		}
		from = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from is after to")
	}
	return from, to, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error("query failed", zap.String("op", op), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}

// nonNil makes empty results encode as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
