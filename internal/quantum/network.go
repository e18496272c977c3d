package quantum

import (
	"fmt"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/qbridge/internal/logging"
)

// DefaultMaxHistory bounds in-memory measurement and teleport history.
const DefaultMaxHistory = 1024

// Options tunes a Network; zero values pick the defaults.
type Options struct {
	Bits       BitSource
	Now        func() time.Time
	Recorder   Recorder
	MaxHistory int
}

type pairKey struct{ a, b string }

func newPairKey(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// Network is the concurrency-safe registry behind the bridge endpoints.
type Network struct {
	mu sync.RWMutex

	order []string
	nodes map[string]*Node

	pairs     []Entanglement
	pairIndex map[pairKey]int

	measurements      []Measurement
	teleports         []Teleportation
	totalMeasurements int
	totalTeleports    int

	localIP string
	port    int

	bits       BitSource
	now        func() time.Time
	recorder   Recorder
	maxHistory int
}

// NewNetwork returns an empty registry.
func NewNetwork(opts Options) *Network {
	n := &Network{
		nodes:      make(map[string]*Node),
		pairIndex:  make(map[pairKey]int),
		bits:       opts.Bits,
		now:        opts.Now,
		recorder:   opts.Recorder,
		maxHistory: opts.MaxHistory,
	}
	if n.bits == nil {
		n.bits = randomBits{}
	}
	if n.now == nil {
		n.now = time.Now
	}
	if n.maxHistory <= 0 {
		n.maxHistory = DefaultMaxHistory
	}
	return n
}

// SetEndpoint records the bridge's advertised LAN address and port.
func (n *Network) SetEndpoint(localIP string, port int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.localIP = localIP
	n.port = port
}

// SetRecorder swaps the history sink; nil disables recording.
func (n *Network) SetRecorder(r Recorder) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recorder = r
}

// AddNode registers node, active unless a status is given; duplicate ids fail with ErrNodeExists.
func (n *Network) AddNode(node Node) error {
	if err := ValidateNodeID(node.ID); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nodes[node.ID]; ok {
		return fmt.Errorf("%w: %s", ErrNodeExists, node.ID)
	}
	if node.Status == "" {
		node.Status = NodeActive
	}
	if node.Queue < 0 {
		node.Queue = 0
	}
	node.EntangledWith = nil
	node.Measurements = 0
	n.nodes[node.ID] = &node
	n.order = append(n.order, node.ID)
	logs.Debugf("quantum.Network.AddNode id=%s addr=%s:%d backend=%s", node.ID, node.Address, node.Port, node.Backend)
	return nil
}

func (n *Network) Node(id string) (Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	if !ok {
		return Node{}, false
	}
	return copyNode(node), true
}

// Nodes returns nodes in registration order.
func (n *Network) Nodes() []Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Node, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, copyNode(n.nodes[id]))
	}
	return out
}

// Entangle records a Bell pair between two registered nodes.
func (n *Network) Entangle(a, b string) (Entanglement, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.entangleLocked(a, b)
}

func (n *Network) entangleLocked(a, b string) (Entanglement, error) {
	nodeA, ok := n.nodes[a]
	if !ok {
		return Entanglement{}, fmt.Errorf("%w: %s", ErrNodeNotFound, a)
	}
	nodeB, ok := n.nodes[b]
	if !ok {
		return Entanglement{}, fmt.Errorf("%w: %s", ErrNodeNotFound, b)
	}
	if a == b {
		return Entanglement{}, fmt.Errorf("%w: %s", ErrSelfEntangle, a)
	}
	key := newPairKey(a, b)
	if idx, ok := n.pairIndex[key]; ok {
		return Entanglement{}, fmt.Errorf("%w: %s <-> %s (%s)", ErrAlreadyEntangled, a, b, n.pairs[idx].ID)
	}

	ent := Entanglement{
		ID:        fmt.Sprintf("ent_%d", len(n.pairs)),
		Nodes:     [2]string{a, b},
		State:     StateBellPhiPlus,
		Strength:  1.0,
		CreatedAt: n.now(),
	}
	n.pairIndex[key] = len(n.pairs)
	n.pairs = append(n.pairs, ent)
	nodeA.EntangledWith = append(nodeA.EntangledWith, b)
	nodeB.EntangledWith = append(nodeB.EntangledWith, a)
	logs.Infof("quantum.Network.Entangle id=%s %s <-> %s", ent.ID, a, b)
	return ent, nil
}

// EntangleAll links every unlinked pair i<j in registration order.
func (n *Network) EntangleAll() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	created := 0
	for i, a := range n.order {
		for _, b := range n.order[i+1:] {
			if _, ok := n.pairIndex[newPairKey(a, b)]; ok {
				continue
			}
			if _, err := n.entangleLocked(a, b); err == nil {
				created++
			}
		}
	}
	return created
}

func (n *Network) Entanglement(id string) (Entanglement, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	idx, ok := n.entanglementIndex(id)
	if !ok {
		return Entanglement{}, false
	}
	return n.pairs[idx], true
}

func (n *Network) entanglementIndex(id string) (int, bool) {
	var idx int
	if _, err := fmt.Sscanf(id, "ent_%d", &idx); err != nil {
		return 0, false
	}
	if idx < 0 || idx >= len(n.pairs) || n.pairs[idx].ID != id {
		return 0, false
	}
	return idx, true
}

func (n *Network) Entanglements() []Entanglement {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Entanglement(nil), n.pairs...)
}

// Measure draws one bit for nodeID. entanglementID may be empty; when set it
// must name a pair that includes the node.
func (n *Network) Measure(nodeID, entanglementID string) (Measurement, error) {
	entanglementID = strings.TrimSpace(entanglementID)

	n.mu.Lock()
	node, ok := n.nodes[nodeID]
	if !ok {
		n.mu.Unlock()
		return Measurement{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if entanglementID != "" {
		idx, ok := n.entanglementIndex(entanglementID)
		if !ok {
			n.mu.Unlock()
			return Measurement{}, fmt.Errorf("%w: %s", ErrEntanglementNotFound, entanglementID)
		}
		if !n.pairs[idx].Includes(nodeID) {
			n.mu.Unlock()
			return Measurement{}, fmt.Errorf("%w: %s not in %s", ErrNodeNotInEntanglement, nodeID, entanglementID)
		}
	}
	m := Measurement{
		Node:         nodeID,
		Entanglement: entanglementID,
		Result:       n.bits.Bit() & 1,
		Timestamp:    n.now(),
	}
	node.Measurements++
	n.totalMeasurements++
	n.measurements = appendBounded(n.measurements, m, n.maxHistory)
	rec := n.recorder
	n.mu.Unlock()

	logs.Infof("quantum.Network.Measure node=%s entanglement=%q result=%d", nodeID, entanglementID, m.Result)
	if rec != nil {
		if err := rec.RecordMeasurement(m); err != nil {
			logs.Warnf("quantum.Network.Measure record failed node=%s err=%v", nodeID, err)
		}
	}
	return m, nil
}

// Teleport moves a named state from source to destination over an existing pair.
// The two classical bits are what the destination needs to finish the protocol.
func (n *Network) Teleport(source, destination, state string) (Teleportation, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		state = DefaultTeleportState
	}

	n.mu.Lock()
	if _, ok := n.nodes[source]; !ok {
		n.mu.Unlock()
		return Teleportation{}, fmt.Errorf("%w: %s", ErrNodeNotFound, source)
	}
	if _, ok := n.nodes[destination]; !ok {
		n.mu.Unlock()
		return Teleportation{}, fmt.Errorf("%w: %s", ErrNodeNotFound, destination)
	}
	if source == destination {
		n.mu.Unlock()
		return Teleportation{}, fmt.Errorf("%w: %s", ErrSelfEntangle, source)
	}
	idx, ok := n.pairIndex[newPairKey(source, destination)]
	if !ok {
		n.mu.Unlock()
		return Teleportation{}, fmt.Errorf("%w: %s -> %s", ErrNotEntangled, source, destination)
	}
	t := Teleportation{
		Source:        source,
		Destination:   destination,
		State:         state,
		ClassicalBits: fmt.Sprintf("%d%d", n.bits.Bit()&1, n.bits.Bit()&1),
		Entanglement:  n.pairs[idx].ID,
		Timestamp:     n.now(),
	}
	n.totalTeleports++
	n.teleports = appendBounded(n.teleports, t, n.maxHistory)
	rec := n.recorder
	n.mu.Unlock()

	logs.Infof("quantum.Network.Teleport %s -> %s state=%q bits=%s via=%s", source, destination, state, t.ClassicalBits, t.Entanglement)
	if rec != nil {
		if err := rec.RecordTeleportation(t); err != nil {
			logs.Warnf("quantum.Network.Teleport record failed source=%s err=%v", source, err)
		}
	}
	return t, nil
}

// Measurements returns the newest limit entries, oldest first. limit <= 0 returns all retained.
func (n *Network) Measurements(limit int) []Measurement {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return tail(n.measurements, limit)
}

func (n *Network) Teleportations(limit int) []Teleportation {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return tail(n.teleports, limit)
}

// Tick drains one queued job from every active node.
func (n *Network) Tick() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, node := range n.nodes {
		if node.Status == NodeActive && node.Queue > 0 {
			node.Queue--
		}
	}
}

func (n *Network) SetNodeStatus(id string, status NodeStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	node, ok := n.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	node.Status = status
	return nil
}

func (n *Network) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	total := 0
	for _, node := range n.nodes {
		total += node.Qubits
	}
	return Status{
		Status:         "online",
		Nodes:          len(n.nodes),
		EntangledPairs: len(n.pairs),
		Measurements:   n.totalMeasurements,
		Teleportations: n.totalTeleports,
		TotalQubits:    total,
		LocalIP:        n.localIP,
		Port:           n.port,
		Timestamp:      n.now(),
	}
}

func (n *Network) Topology() Topology {
	n.mu.RLock()
	defer n.mu.RUnlock()
	nodes := make(map[string]Node, len(n.nodes))
	for id, node := range n.nodes {
		nodes[id] = copyNode(node)
	}
	return Topology{
		LocalIP: n.localIP,
		Nodes:   nodes,
		QuantumState: QuantumState{
			EntangledPairs:     append([]Entanglement{}, n.pairs...),
			MeasurementHistory: append([]Measurement{}, n.measurements...),
			Teleportations:     append([]Teleportation{}, n.teleports...),
		},
	}
}

func copyNode(node *Node) Node {
	out := *node
	out.EntangledWith = append([]string{}, node.EntangledWith...)
	return out
}

func appendBounded[T any](list []T, v T, max int) []T {
	list = append(list, v)
	if len(list) > max {
		trimmed := make([]T, max)
		copy(trimmed, list[len(list)-max:])
		return trimmed
	}
	return list
}

func tail[T any](list []T, limit int) []T {
	if limit <= 0 || limit >= len(list) {
		return append([]T{}, list...)
	}
	return append([]T{}, list[len(list)-limit:]...)
}
