package bridge

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	logs "github.com/danmuck/qbridge/internal/logging"
	"github.com/danmuck/qbridge/internal/netinfo"
	"github.com/danmuck/qbridge/internal/quantum"
)

const dashboardMeasurements = 10

//go:embed web/dashboard.html
var webFS embed.FS

var dashboardTemplate = template.Must(template.ParseFS(webFS, "web/dashboard.html"))

type dashboardData struct {
	Name                string
	Status              quantum.Status
	Nodes               []quantum.Node
	Entanglements       []quantum.Entanglement
	Measurements        []quantum.Measurement
	URLs                []string
	AuthRequired        bool
	MeasureNode         string
	MeasureEntanglement string
	TeleportSource      string
	TeleportDestination string
}

func (s *Server) dashboardData() dashboardData {
	status := s.network.Status()
	nodes := s.network.Nodes()
	ents := s.network.Entanglements()
	data := dashboardData{
		Name:          s.cfg.Name,
		Status:        status,
		Nodes:         nodes,
		Entanglements: ents,
		Measurements:  s.network.Measurements(dashboardMeasurements),
		URLs:          netinfo.URLs(status.LocalIP, status.Port),
		AuthRequired:  s.cfg.APIToken != "",
	}
	if len(nodes) > 0 {
		data.MeasureNode = nodes[0].ID
		for _, e := range ents {
			if e.Includes(data.MeasureNode) {
				data.MeasureEntanglement = e.ID
				break
			}
		}
	}
	data.TeleportSource, data.TeleportDestination = s.defaultTeleportPair()
	return data
}

func (s *Server) handleDashboard(c *gin.Context) {
	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, s.dashboardData()); err != nil {
		logs.Errf("bridge.Server.handleDashboard render failed err=%v", err)
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
