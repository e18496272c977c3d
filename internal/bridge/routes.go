package bridge

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/qbridge/internal/auth"
	logs "github.com/danmuck/qbridge/internal/logging"
	"github.com/danmuck/qbridge/internal/observability"
	"github.com/danmuck/qbridge/internal/quantum"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

var ErrHistoryDisabled = errors.New("bridge: history store disabled")

type entangleRequest struct {
	NodeA string `json:"node_a"`
	NodeB string `json:"node_b"`
}

type measureRequest struct {
	NodeID         string `json:"node_id"`
	EntanglementID string `json:"entanglement_id"`
}

type teleportRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	State       string `json:"state"`
}

func (s *Server) buildRouter(validator auth.Validator) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/status", "/metrics", "/health", "/ready"))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", auth.HeaderToken},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/", s.handleDashboard)
	r.GET("/status", s.handleStatus)
	r.GET("/network", s.handleNetwork)
	r.GET("/history", s.handleHistory)
	r.GET("/announce", s.handleAnnounce)
	r.GET("/announce/djs", s.handlePresenters)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"bridge":  s.cfg.Name,
			"version": Version,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		phase := s.Phase()
		code := http.StatusOK
		if phase != PhaseLive {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   phase == PhaseLive,
			"phase":   phase,
			"bridge":  s.cfg.Name,
			"version": Version,
		})
	})

	mutations := r.Group("/", auth.Require(validator))
	mutations.POST("/entangle", s.handleEntangle)
	mutations.POST("/measure", s.handleMeasure)
	mutations.POST("/teleport", s.handleTeleport)
	return r
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.network.Status())
}

func (s *Server) handleNetwork(c *gin.Context) {
	c.JSON(http.StatusOK, s.network.Topology())
}

func (s *Server) handleEntangle(c *gin.Context) {
	var req entangleRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.NodeA) == "" || strings.TrimSpace(req.NodeB) == "" {
		writeError(c, http.StatusBadRequest, errors.New("node_a and node_b are required"))
		return
	}
	ent, err := s.network.Entangle(strings.TrimSpace(req.NodeA), strings.TrimSpace(req.NodeB))
	s.recordOp("entangle", err)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	s.mu.RLock()
	s.recordSizeLocked()
	s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"success": true, "entanglement": ent})
}

func (s *Server) handleMeasure(c *gin.Context) {
	var req measureRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	nodeID := strings.TrimSpace(req.NodeID)
	if nodeID == "" {
		nodes := s.network.Nodes()
		if len(nodes) == 0 {
			writeError(c, http.StatusNotFound, quantum.ErrNodeNotFound)
			return
		}
		nodeID = nodes[0].ID
	}
	m, err := s.network.Measure(nodeID, req.EntanglementID)
	s.recordOp("measure", err)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "measurement": m})
}

func (s *Server) handleTeleport(c *gin.Context) {
	var req teleportRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	src, dst := s.defaultTeleportPair()
	if v := strings.TrimSpace(req.Source); v != "" {
		src = v
	}
	if v := strings.TrimSpace(req.Destination); v != "" {
		dst = v
	}
	if src == "" || dst == "" {
		writeError(c, http.StatusNotFound, quantum.ErrNodeNotFound)
		return
	}
	t, err := s.network.Teleport(src, dst, req.State)
	s.recordOp("teleport", err)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "teleportation": t})
}

func (s *Server) handleHistory(c *gin.Context) {
	s.mu.RLock()
	h := s.history
	s.mu.RUnlock()
	if h == nil {
		writeError(c, http.StatusNotFound, ErrHistoryDisabled)
		return
	}
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(c, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(v, maxHistoryLimit)
	}
	entries, err := h.Recent(c.Request.Context(), limit)
	if err != nil {
		logs.Errf("bridge.Server.handleHistory failed err=%v", err)
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entries": entries})
}

// defaultTeleportPair is first -> last of the preset backends when present,
// else first -> last registered node.
func (s *Server) defaultTeleportPair() (string, string) {
	preset := quantum.PresetNodes()
	first, last := preset[0].ID, preset[len(preset)-1].ID
	_, okFirst := s.network.Node(first)
	_, okLast := s.network.Node(last)
	if okFirst && okLast {
		return first, last
	}
	nodes := s.network.Nodes()
	if len(nodes) < 2 {
		return "", ""
	}
	return nodes[0].ID, nodes[len(nodes)-1].ID
}

func (s *Server) recordOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.RecordQuantumOp(s.cfg.Name, op, outcome)
}

// bindOptionalJSON decodes the body into out. An empty body keeps defaults.
func bindOptionalJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, err)
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, quantum.ErrNodeNotFound), errors.Is(err, quantum.ErrEntanglementNotFound):
		return http.StatusNotFound
	case errors.Is(err, quantum.ErrAlreadyEntangled), errors.Is(err, quantum.ErrNotEntangled):
		return http.StatusConflict
	case errors.Is(err, quantum.ErrSelfEntangle),
		errors.Is(err, quantum.ErrNodeNotInEntanglement),
		errors.Is(err, quantum.ErrInvalidNodeID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
