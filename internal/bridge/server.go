package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danmuck/qbridge/internal/auth"
	"github.com/danmuck/qbridge/internal/history"
	logs "github.com/danmuck/qbridge/internal/logging"
	"github.com/danmuck/qbridge/internal/netinfo"
	"github.com/danmuck/qbridge/internal/observability"
	"github.com/danmuck/qbridge/internal/quantum"
)

var (
	ErrInvalidName    = errors.New("bridge: invalid name")
	ErrInvalidAddr    = errors.New("bridge: invalid listen address")
	ErrLifecycleOrder = errors.New("bridge: invalid lifecycle transition")
)

// LifecyclePhase describes bridge startup progress.
type LifecyclePhase string

const (
	PhaseBoot       LifecyclePhase = "boot"
	PhaseAppeared   LifecyclePhase = "appeared"
	PhaseDiscovered LifecyclePhase = "discovered"
	PhaseEntangled  LifecyclePhase = "entangled"
	PhaseLive       LifecyclePhase = "live"
)

// Config configures one bridge process.
type Config struct {
	Name              string
	Addr              string
	CorsOrigins       []string
	APIToken          string
	Preset            bool
	EntangleOnBoot    bool
	Peers             []string
	StatusFile        string
	StatusInterval    time.Duration
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
	HistoryDSN        string
	MaxHistory        int
	// LocalIP overrides interface discovery for the advertised address.
	LocalIP string
	// PeerTimeout bounds each peer /status request during discovery.
	PeerTimeout time.Duration
}

// DefaultConfig serves the preset network on :8765.
func DefaultConfig() Config {
	return Config{
		Name:              "qbridge",
		Addr:              ":8765",
		CorsOrigins:       []string{"http://localhost:3000"},
		Preset:            true,
		EntangleOnBoot:    true,
		StatusFile:        "quantum_network_status.json",
		StatusInterval:    5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		HistoryDSN:        "file:qbridge_history.db",
		MaxHistory:        quantum.DefaultMaxHistory,
		PeerTimeout:       3 * time.Second,
	}
}

// HistoryReader serves GET /history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// PeerInfo is the outcome of probing one configured peer.
type PeerInfo struct {
	Addr    string `json:"addr"`
	NodeID  string `json:"node_id,omitempty"`
	Online  bool   `json:"online"`
	Nodes   int    `json:"nodes"`
	LocalIP string `json:"local_ip,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LifecycleStatus reports the bridge's identity and progress.
type LifecycleStatus struct {
	Name     string         `json:"name"`
	Phase    LifecyclePhase `json:"phase"`
	Addr     string         `json:"addr"`
	LocalIP  string         `json:"local_ip"`
	Port     int            `json:"port"`
	Peers    []PeerInfo     `json:"peers"`
	Appeared time.Time      `json:"appeared"`
}

// Server owns the network registry, the HTTP router and the lifecycle phase.
type Server struct {
	mu sync.RWMutex

	cfg      Config
	phase    LifecyclePhase
	localIP  string
	port     int
	appeared time.Time
	peers    []PeerInfo

	network *quantum.Network
	history HistoryReader
	client  *http.Client
	router  *gin.Engine

	announcer announcer
}

// NewServer constructs a bridge in boot phase around network.
func NewServer(network *quantum.Network) *Server {
	if network == nil {
		network = quantum.NewNetwork(quantum.Options{})
	}
	return &Server{
		phase:   PhaseBoot,
		network: network,
		client:  &http.Client{},
	}
}

// SetHistory attaches the store behind GET /history.
func (s *Server) SetHistory(h HistoryReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = h
}

// Appear binds identity and listen address and builds the router: boot -> appeared.
func (s *Server) Appear(cfg Config) error {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return ErrInvalidName
	}
	port, err := parsePort(cfg.Addr)
	if err != nil {
		return err
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultConfig().PeerTimeout
	}
	localIP := strings.TrimSpace(cfg.LocalIP)
	if localIP == "" {
		localIP = netinfo.LocalIP()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseBoot {
		return transitionError(s.phase, PhaseAppeared)
	}
	cfg.Name = name
	s.cfg = cfg
	s.localIP = localIP
	s.port = port
	s.appeared = time.Now()
	s.client.Timeout = cfg.PeerTimeout
	s.network.SetEndpoint(localIP, port)

	var validator auth.Validator
	if cfg.APIToken != "" {
		validator = auth.StaticToken{Token: cfg.APIToken}
	}
	s.router = s.buildRouter(validator)
	s.phase = PhaseAppeared
	logs.Infof("bridge.Server.Appear name=%s addr=%s local_ip=%s port=%d auth=%v", name, cfg.Addr, localIP, port, validator != nil)
	return nil
}

// Discover registers preset nodes and every configured peer that reports
// online: appeared -> discovered. It returns the number of nodes added.
func (s *Server) Discover(ctx context.Context) (int, error) {
	s.mu.RLock()
	phase := s.phase
	cfg := s.cfg
	localIP, port := s.localIP, s.port
	s.mu.RUnlock()
	if phase != PhaseAppeared {
		return 0, transitionError(phase, PhaseDiscovered)
	}

	added := 0
	if cfg.Preset {
		added += s.network.SeedPreset(localIP, port)
	}
	peers := make([]PeerInfo, 0, len(cfg.Peers))
	for _, addr := range cfg.Peers {
		info := s.probePeer(ctx, strings.TrimSpace(addr))
		if info.Online {
			err := s.network.AddNode(peerNode(info))
			switch {
			case err == nil:
				added++
			case errors.Is(err, quantum.ErrNodeExists):
			default:
				info.Error = err.Error()
				info.Online = false
			}
		}
		observability.RecordPeerProbe(cfg.Name, info.Addr, info.Online)
		peers = append(peers, info)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAppeared {
		return added, transitionError(s.phase, PhaseDiscovered)
	}
	s.peers = peers
	s.phase = PhaseDiscovered
	logs.Infof("bridge.Server.Discover added=%d nodes=%d peers=%d", added, len(s.network.Nodes()), len(peers))
	return added, nil
}

// Entangle pairs every registered node when EntangleOnBoot is set:
// discovered -> entangled.
func (s *Server) Entangle() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseDiscovered {
		return 0, transitionError(s.phase, PhaseEntangled)
	}
	created := 0
	if s.cfg.EntangleOnBoot {
		created = s.network.EntangleAll()
	}
	s.phase = PhaseEntangled
	s.recordSizeLocked()
	logs.Infof("bridge.Server.Entangle created=%d total=%d", created, len(s.network.Entanglements()))
	return created, nil
}

// Live marks the bridge ready to serve: entangled -> live.
func (s *Server) Live() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseEntangled {
		return transitionError(s.phase, PhaseLive)
	}
	s.phase = PhaseLive
	logs.Infof("bridge.Server.Live name=%s", s.cfg.Name)
	return nil
}

func (s *Server) Phase() LifecyclePhase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Server) Status() LifecycleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LifecycleStatus{
		Name:     s.cfg.Name,
		Phase:    s.phase,
		Addr:     s.cfg.Addr,
		LocalIP:  s.localIP,
		Port:     s.port,
		Peers:    append([]PeerInfo(nil), s.peers...),
		Appeared: s.appeared,
	}
}

func (s *Server) Network() *quantum.Network {
	return s.network
}

// Handler returns the router built at Appear; nil before that.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.router == nil {
		return nil
	}
	return s.router
}

func (s *Server) recordSizeLocked() {
	observability.SetNetworkSize(s.cfg.Name, len(s.network.Nodes()), len(s.network.Entanglements()))
}

func parsePort(addr string) (int, error) {
	_, raw, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAddr, addr, err)
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddr, addr)
	}
	return port, nil
}

func transitionError(from, to LifecyclePhase) error {
	return fmt.Errorf("%w: %s -> %s", ErrLifecycleOrder, from, to)
}
