package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	logs "github.com/danmuck/qbridge/internal/logging"
	"github.com/danmuck/qbridge/internal/quantum"
)

// peerQubits is what a remote bridge contributes: its local simulator.
const peerQubits = 8

type peerStatus struct {
	Status  string `json:"status"`
	Nodes   int    `json:"nodes"`
	LocalIP string `json:"local_ip"`
	Port    int    `json:"port"`
}

func (s *Server) probePeer(ctx context.Context, addr string) PeerInfo {
	info := PeerInfo{Addr: addr}
	host, portRaw, err := net.SplitHostPort(addr)
	if err != nil {
		info.Error = err.Error()
		logs.Warnf("bridge.Server.probePeer invalid addr=%q err=%v", addr, err)
		return info
	}
	st, err := s.fetchPeerStatus(ctx, "http://"+addr+"/status")
	if err != nil {
		info.Error = err.Error()
		logs.Warnf("bridge.Server.probePeer unreachable addr=%s err=%v", addr, err)
		return info
	}
	if st.Status != "online" {
		info.Error = fmt.Sprintf("peer reports status %q", st.Status)
		logs.Warnf("bridge.Server.probePeer offline addr=%s status=%q", addr, st.Status)
		return info
	}
	info.Online = true
	info.Nodes = st.Nodes
	info.LocalIP = st.LocalIP
	info.NodeID = quantum.NormalizeNodeID("peer_" + host + "_" + portRaw)
	logs.Infof("bridge.Server.probePeer online addr=%s node=%s remote_nodes=%d", addr, info.NodeID, st.Nodes)
	return info
}

func (s *Server) fetchPeerStatus(ctx context.Context, url string) (peerStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return peerStatus{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return peerStatus{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return peerStatus{}, fmt.Errorf("peer answered %d", resp.StatusCode)
	}
	var st peerStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&st); err != nil {
		return peerStatus{}, fmt.Errorf("decode peer status: %w", err)
	}
	return st, nil
}

func peerNode(info PeerInfo) quantum.Node {
	host, portRaw, _ := net.SplitHostPort(info.Addr)
	port, _ := strconv.Atoi(portRaw)
	return quantum.Node{
		ID:      info.NodeID,
		Address: host,
		Port:    port,
		Backend: "qbridge",
		Qubits:  peerQubits,
	}
}
