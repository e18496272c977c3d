package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/qbridge/internal/history"
	logs "github.com/danmuck/qbridge/internal/logging"
	"github.com/danmuck/qbridge/internal/netinfo"
	"github.com/danmuck/qbridge/internal/quantum"
	"github.com/danmuck/qbridge/internal/statusfile"
)

const Version = "0.1.0"

// Service runs the bridge lifecycle as a standalone process.
type Service struct {
	cfg Config

	server  *Server
	network *quantum.Network
	store   *history.Store

	mu    sync.RWMutex
	addr  net.Addr
	ready chan struct{}
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultConfig())
}

func NewServiceWithConfig(cfg Config) *Service {
	defaults := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaults.StatusInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	network := quantum.NewNetwork(quantum.Options{MaxHistory: cfg.MaxHistory})
	return &Service{
		cfg:     cfg,
		server:  NewServer(network),
		network: network,
		ready:   make(chan struct{}),
	}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext boots the bridge, serves until ctx is done and shuts down.
func (s *Service) RunContext(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	if err := s.bootstrap(ctx, ln.Addr()); err != nil {
		_ = ln.Close()
		s.closeStore()
		return err
	}
	defer s.closeStore()

	httpServer := &http.Server{
		Handler:           s.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)
	s.logBanner()

	return s.serve(ctx, httpServer, serveErr)
}

func (s *Service) bootstrap(ctx context.Context, bound net.Addr) error {
	cfg := s.cfg
	if tcp, ok := bound.(*net.TCPAddr); ok {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = ""
		}
		cfg.Addr = net.JoinHostPort(host, strconv.Itoa(tcp.Port))
	}

	if cfg.HistoryDSN != "" {
		store, err := history.Open(ctx, cfg.HistoryDSN)
		if err != nil {
			return err
		}
		s.store = store
		s.network.SetRecorder(store)
		s.server.SetHistory(store)
	}

	if err := s.server.Appear(cfg); err != nil {
		return err
	}
	if _, err := s.server.Discover(ctx); err != nil {
		return err
	}
	if _, err := s.server.Entangle(); err != nil {
		return err
	}
	if err := s.server.Live(); err != nil {
		return err
	}
	s.writeStatus()
	return nil
}

func (s *Service) serve(ctx context.Context, httpServer *http.Server, serveErr <-chan error) error {
	statusTicker := time.NewTicker(s.cfg.StatusInterval)
	defer statusTicker.Stop()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logs.Infof("bridge.Service.serve shutdown")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logs.Warnf("bridge.Service.serve shutdown incomplete err=%v", err)
				return err
			}
			s.writeStatus()
			return nil
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-statusTicker.C:
			s.network.Tick()
			s.writeStatus()
		case <-heartbeat.C:
			st := s.network.Status()
			ls := s.server.Status()
			logs.Infof(
				"bridge.Service.heartbeat name=%q phase=%s nodes=%d entangled_pairs=%d measurements=%d teleportations=%d",
				ls.Name,
				ls.Phase,
				st.Nodes,
				st.EntangledPairs,
				st.Measurements,
				st.Teleportations,
			)
		}
	}
}

func (s *Service) writeStatus() {
	if s.cfg.StatusFile == "" {
		return
	}
	ls := s.server.Status()
	snap := statusfile.Build(s.network.Status(), s.network.Nodes(), statusfile.BridgeSection{
		Name:    ls.Name,
		Addr:    ls.Addr,
		LocalIP: ls.LocalIP,
		Phase:   string(ls.Phase),
		PID:     os.Getpid(),
	})
	if err := statusfile.Write(s.cfg.StatusFile, snap); err != nil {
		logs.Warnf("bridge.Service.writeStatus failed path=%s err=%v", s.cfg.StatusFile, err)
	}
}

func (s *Service) logBanner() {
	ls := s.server.Status()
	st := s.network.Status()
	logs.Infof("bridge.Service.Run live name=%s addr=%s nodes=%d entangled_pairs=%d", ls.Name, s.Addr(), st.Nodes, st.EntangledPairs)
	for _, u := range netinfo.URLs(ls.LocalIP, ls.Port) {
		logs.Infof("bridge.Service.Run open url=%s", u)
	}
}

func (s *Service) closeStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		logs.Warnf("bridge.Service.closeStore err=%v", err)
	}
}

// Ready is closed once the listener is serving.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound listen address; empty before Ready.
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

func (s *Service) Server() *Server {
	return s.server
}
