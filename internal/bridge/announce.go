package bridge

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danmuck/qbridge/internal/quantum"
)

const DefaultPresenter = "aurora"

// Presenter voices a status announcement.
type Presenter struct {
	Name  string `json:"name"`
	Style string `json:"style"`
	Intro string `json:"intro"`
}

var presenters = map[string]Presenter{
	"aurora": {Name: "Aurora", Style: "warm and creative", Intro: "Hey everyone, this is Aurora coming to you live from the quantum realm!"},
	"atlas":  {Name: "Atlas", Style: "authoritative and strategic", Intro: "This is Atlas. Reporting quantum network status."},
	"ian":    {Name: "Ian", Style: "friendly and communicative", Intro: "Hey there! Ian here, your quantum communications specialist!"},
	"morgan": {Name: "Morgan", Style: "analytical and precise", Intro: "Morgan online. Analyzing quantum network telemetry."},
}

// Presenters returns the known presenter keys in sorted order.
func Presenters() []string {
	keys := make([]string, 0, len(presenters))
	for k := range presenters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Announce renders a plain-text status bulletin from live network state.
// Unknown presenter keys fall back to DefaultPresenter. It returns the text and
// the presenter key used.
func Announce(status quantum.Status, nodes []quantum.Node, key string) (string, string) {
	key = strings.ToLower(strings.TrimSpace(key))
	p, ok := presenters[key]
	if !ok {
		key = DefaultPresenter
		p = presenters[key]
	}

	active := 0
	backends := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Status == quantum.NodeActive {
			active++
		}
		backends = append(backends, n.Backend)
	}
	health := "optimal"
	if status.Status != "online" {
		health = status.Status
	} else if active < len(nodes) {
		health = "degraded"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", p.Intro)
	b.WriteString("Here's your quantum network status update:\n\n")
	fmt.Fprintf(&b, "We currently have %d of %d nodes online.\n\n", active, len(nodes))
	fmt.Fprintf(&b, "Total qubits available: %d\n", status.TotalQubits)
	fmt.Fprintf(&b, "Active entanglement pairs: %d\n", status.EntangledPairs)
	fmt.Fprintf(&b, "Measurements so far: %d\n", status.Measurements)
	fmt.Fprintf(&b, "Teleportations so far: %d\n", status.Teleportations)
	fmt.Fprintf(&b, "Network health: %s\n", health)
	if len(backends) > 0 {
		fmt.Fprintf(&b, "\nBackends on the air: %s.\n", strings.Join(backends, ", "))
	}
	fmt.Fprintf(&b, "\nStay connected to the quantum realm. This is %s on the bridge.", p.Name)
	return b.String(), key
}

type announcer struct {
	listeners atomic.Int64
}

func (s *Server) handleAnnounce(c *gin.Context) {
	text, key := Announce(s.network.Status(), s.network.Nodes(), c.Query("dj"))
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"announcement": text,
		"dj":           key,
		"listeners":    s.announcer.listeners.Add(1),
		"timestamp":    time.Now().UTC(),
	})
}

func (s *Server) handlePresenters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "order": Presenters(), "djs": presenters})
}
