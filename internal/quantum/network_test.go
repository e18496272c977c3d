package quantum

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/qbridge/internal/testutil/testlog"

	logs "github.com/danmuck/qbridge/internal/logging"
)

type sequenceBits struct {
	mu   sync.Mutex
	bits []int
	next int
}

func (s *sequenceBits) Bit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bits[s.next%len(s.bits)]
	s.next++
	return b
}

type memRecorder struct {
	measurements []Measurement
	teleports    []Teleportation
	fail         error
}

func (r *memRecorder) RecordMeasurement(m Measurement) error {
	r.measurements = append(r.measurements, m)
	return r.fail
}

func (r *memRecorder) RecordTeleportation(t Teleportation) error {
	r.teleports = append(r.teleports, t)
	return r.fail
}

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newPresetNetwork(t *testing.T, bits ...int) *Network {
	t.Helper()
	if len(bits) == 0 {
		bits = []int{0}
	}
	n := NewNetwork(Options{
		Bits: &sequenceBits{bits: bits},
		Now:  func() time.Time { return fixedNow },
	})
	n.SetEndpoint("192.168.1.20", 8765)
	if added := n.SeedPreset("192.168.1.20", 8765); added != 4 {
		t.Fatalf("expected 4 preset nodes, got %d", added)
	}
	return n
}

func TestSeedPresetAndEntangleAll(t *testing.T) {
	testlog.Start(t)
	n := newPresetNetwork(t)

	if again := n.SeedPreset("192.168.1.20", 8765); again != 0 {
		t.Fatalf("expected preset re-seed to be a no-op, added %d", again)
	}
	if created := n.EntangleAll(); created != 6 {
		t.Fatalf("expected 6 pairwise entanglements, got %d", created)
	}
	if created := n.EntangleAll(); created != 0 {
		t.Fatalf("expected second EntangleAll to add nothing, got %d", created)
	}

	pairs := n.Entanglements()
	want := [][2]string{
		{"ibm_fez", "ibm_torino"},
		{"ibm_fez", "ibm_marrakesh"},
		{"ibm_fez", "local_node"},
		{"ibm_torino", "ibm_marrakesh"},
		{"ibm_torino", "local_node"},
		{"ibm_marrakesh", "local_node"},
	}
	for i, p := range pairs {
		if p.ID != fmt.Sprintf("ent_%d", i) {
			t.Fatalf("pair %d has id %s", i, p.ID)
		}
		if p.Nodes != want[i] || p.State != StateBellPhiPlus || p.Strength != 1.0 {
			t.Fatalf("unexpected pair %d: %+v", i, p)
		}
	}

	st := n.Status()
	if st.Status != "online" || st.Nodes != 4 || st.EntangledPairs != 6 || st.TotalQubits != 453 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.LocalIP != "192.168.1.20" || st.Port != 8765 {
		t.Fatalf("unexpected endpoint in status: %+v", st)
	}

	local, ok := n.Node(LocalNodeID)
	if !ok || !local.Local || local.Backend != "simulator" || len(local.EntangledWith) != 3 {
		t.Fatalf("unexpected local node: %+v", local)
	}
	logs.Logf("quantum/preset: nodes=%d pairs=%d qubits=%d", st.Nodes, st.EntangledPairs, st.TotalQubits)
}

func TestEntangleErrors(t *testing.T) {
	testlog.Start(t)
	n := newPresetNetwork(t)

	if _, err := n.Entangle("ibm_fez", "nowhere"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
	if _, err := n.Entangle("ibm_fez", "ibm_fez"); !errors.Is(err, ErrSelfEntangle) {
		t.Fatalf("expected ErrSelfEntangle, got %v", err)
	}
	ent, err := n.Entangle("ibm_torino", "ibm_fez")
	if err != nil || ent.ID != "ent_0" {
		t.Fatalf("expected ent_0, got %+v err=%v", ent, err)
	}
	if _, err := n.Entangle("ibm_fez", "ibm_torino"); !errors.Is(err, ErrAlreadyEntangled) {
		t.Fatalf("expected reversed pair to be rejected, got %v", err)
	}
	fez, _ := n.Node("ibm_fez")
	torino, _ := n.Node("ibm_torino")
	if len(fez.EntangledWith) != 1 || fez.EntangledWith[0] != "ibm_torino" ||
		len(torino.EntangledWith) != 1 || torino.EntangledWith[0] != "ibm_fez" {
		t.Fatalf("links must be symmetric: fez=%v torino=%v", fez.EntangledWith, torino.EntangledWith)
	}
}

func TestMeasureRecordsHistory(t *testing.T) {
	testlog.Start(t)
	rec := &memRecorder{}
	n := newPresetNetwork(t, 1, 0, 1)
	n.SetRecorder(rec)
	n.EntangleAll()

	m, err := n.Measure("ibm_fez", "ent_0")
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if m.Result != 1 || m.Node != "ibm_fez" || m.Entanglement != "ent_0" || !m.Timestamp.Equal(fixedNow) {
		t.Fatalf("unexpected measurement: %+v", m)
	}
	if _, err := n.Measure("local_node", ""); err != nil {
		t.Fatalf("measure without entanglement: %v", err)
	}

	if _, err := n.Measure("ghost", ""); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
	if _, err := n.Measure("ibm_fez", "ent_99"); !errors.Is(err, ErrEntanglementNotFound) {
		t.Fatalf("expected ErrEntanglementNotFound, got %v", err)
	}
	if _, err := n.Measure("ibm_fez", "ent_5"); !errors.Is(err, ErrNodeNotInEntanglement) {
		t.Fatalf("expected ErrNodeNotInEntanglement, got %v", err)
	}

	history := n.Measurements(0)
	if len(history) != 2 || history[0].Result != 1 || history[1].Result != 0 {
		t.Fatalf("unexpected history: %+v", history)
	}
	if len(rec.measurements) != 2 {
		t.Fatalf("recorder saw %d measurements", len(rec.measurements))
	}
	fez, _ := n.Node("ibm_fez")
	if fez.Measurements != 1 {
		t.Fatalf("expected per-node count 1, got %d", fez.Measurements)
	}
	if n.Status().Measurements != 2 {
		t.Fatalf("status measurement count mismatch")
	}
}

func TestRecorderFailureDoesNotFailMeasure(t *testing.T) {
	testlog.Start(t)
	rec := &memRecorder{fail: errors.New("disk full")}
	n := newPresetNetwork(t)
	n.SetRecorder(rec)
	if _, err := n.Measure("ibm_fez", ""); err != nil {
		t.Fatalf("recorder errors must not surface: %v", err)
	}
	if len(rec.measurements) != 1 {
		t.Fatalf("recorder was not called")
	}
}

func TestTeleport(t *testing.T) {
	testlog.Start(t)
	n := newPresetNetwork(t, 0, 1)

	if _, err := n.Teleport("ibm_fez", "ibm_marrakesh", ""); !errors.Is(err, ErrNotEntangled) {
		t.Fatalf("expected ErrNotEntangled before linking, got %v", err)
	}
	n.EntangleAll()

	tp, err := n.Teleport("ibm_fez", "ibm_marrakesh", "")
	if err != nil {
		t.Fatalf("teleport: %v", err)
	}
	if tp.ClassicalBits != "01" || tp.State != DefaultTeleportState || tp.Entanglement != "ent_1" {
		t.Fatalf("unexpected teleportation: %+v", tp)
	}
	if _, err := n.Teleport("ibm_fez", "mars", "psi"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
	if _, err := n.Teleport("ibm_fez", "ibm_fez", "psi"); !errors.Is(err, ErrSelfEntangle) {
		t.Fatalf("expected self teleport rejected, got %v", err)
	}
	if got := n.Teleportations(0); len(got) != 1 {
		t.Fatalf("expected one teleport in history, got %d", len(got))
	}
	logs.Logf("quantum/teleport: %s -> %s bits=%s", tp.Source, tp.Destination, tp.ClassicalBits)
}

func TestHistoryIsBounded(t *testing.T) {
	testlog.Start(t)
	n := NewNetwork(Options{MaxHistory: 3, Bits: BitFunc(func() int { return 3 })})
	if err := n.AddNode(Node{ID: "solo", Qubits: 2}); err != nil {
		t.Fatalf("add node: %v", err)
	}
	for i := 0; i < 5; i++ {
		m, err := n.Measure("solo", "")
		if err != nil {
			t.Fatalf("measure: %v", err)
		}
		if m.Result != 1 {
			t.Fatalf("BitFunc must mask to one bit, got %d", m.Result)
		}
	}
	if got := len(n.Measurements(0)); got != 3 {
		t.Fatalf("expected 3 retained, got %d", got)
	}
	if got := len(n.Measurements(2)); got != 2 {
		t.Fatalf("expected limit 2, got %d", got)
	}
	if n.Status().Measurements != 5 {
		t.Fatalf("status must count all measurements")
	}
}

func TestAddNodeValidation(t *testing.T) {
	testlog.Start(t)
	n := NewNetwork(Options{})
	for _, id := range []string{"", "IBM", "_lead", "trail-", "a..b", "has space"} {
		if err := n.AddNode(Node{ID: id}); !errors.Is(err, ErrInvalidNodeID) {
			t.Fatalf("expected %q rejected, got %v", id, err)
		}
	}
	if err := n.AddNode(Node{ID: "lab.bridge-2"}); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
	if err := n.AddNode(Node{ID: "lab.bridge-2"}); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("expected ErrNodeExists, got %v", err)
	}
	if got := NormalizeNodeID("  Lab Bridge #2 "); got != "lab_bridge_2" {
		t.Fatalf("NormalizeNodeID: got %q", got)
	}
}

func TestTickDrainsActiveQueues(t *testing.T) {
	n := NewNetwork(Options{})
	_ = n.AddNode(Node{ID: "busy", Queue: 2})
	_ = n.AddNode(Node{ID: "down", Queue: 2, Status: NodeOffline})
	n.Tick()
	n.Tick()
	n.Tick()
	busy, _ := n.Node("busy")
	down, _ := n.Node("down")
	if busy.Queue != 0 || down.Queue != 2 {
		t.Fatalf("unexpected queues busy=%d down=%d", busy.Queue, down.Queue)
	}
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	n := newPresetNetwork(t)
	n.EntangleAll()
	top := n.Topology()
	fez := top.Nodes["ibm_fez"]
	fez.EntangledWith[0] = "tampered"
	again, _ := n.Node("ibm_fez")
	if again.EntangledWith[0] == "tampered" {
		t.Fatalf("topology snapshot aliases registry state")
	}
}

func TestConcurrentMeasure(t *testing.T) {
	n := newPresetNetwork(t, 0, 1)
	n.EntangleAll()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := n.Measure("ibm_torino", "ent_0"); err != nil {
					t.Errorf("measure: %v", err)
				}
				_ = n.Status()
			}
		}()
	}
	wg.Wait()
	if got := n.Status().Measurements; got != 160 {
		t.Fatalf("expected 160 measurements, got %d", got)
	}
}
