package quantum

import "time"

const (
	StateBellPhiPlus     = "bell_phi_plus"
	DefaultTeleportState = "superposition"
)

type NodeStatus string

const (
	NodeActive       NodeStatus = "active"
	NodeInitializing NodeStatus = "initializing"
	NodeOffline      NodeStatus = "offline"
)

// Node is one registered quantum endpoint.
type Node struct {
	ID            string     `json:"id"`
	Address       string     `json:"ip"`
	Port          int        `json:"port"`
	Backend       string     `json:"quantum_backend"`
	Qubits        int        `json:"qubits"`
	Local         bool       `json:"is_local"`
	Status        NodeStatus `json:"status"`
	Queue         int        `json:"queue"`
	EntangledWith []string   `json:"entangled_with"`
	Measurements  int        `json:"measurements"`
}

type Entanglement struct {
	ID        string    `json:"id"`
	Nodes     [2]string `json:"nodes"`
	State     string    `json:"state"`
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
}

// Includes reports whether nodeID is one side of the pair.
func (e Entanglement) Includes(nodeID string) bool {
	return e.Nodes[0] == nodeID || e.Nodes[1] == nodeID
}

type Measurement struct {
	Node         string    `json:"node"`
	Entanglement string    `json:"entanglement,omitempty"`
	Result       int       `json:"result"`
	Timestamp    time.Time `json:"timestamp"`
}

type Teleportation struct {
	Source        string    `json:"source"`
	Destination   string    `json:"destination"`
	State         string    `json:"state"`
	ClassicalBits string    `json:"classical_bits"`
	Entanglement  string    `json:"entanglement"`
	Timestamp     time.Time `json:"timestamp"`
}

// Status is the compact view served on GET /status.
type Status struct {
	Status         string    `json:"status"`
	Nodes          int       `json:"nodes"`
	EntangledPairs int       `json:"entangled_pairs"`
	Measurements   int       `json:"measurements"`
	Teleportations int       `json:"teleportations"`
	TotalQubits    int       `json:"total_qubits"`
	LocalIP        string    `json:"local_ip"`
	Port           int       `json:"port"`
	Timestamp      time.Time `json:"timestamp"`
}

// Topology is the full view served on GET /network.
type Topology struct {
	LocalIP      string          `json:"local_ip"`
	Nodes        map[string]Node `json:"nodes"`
	QuantumState QuantumState    `json:"quantum_state"`
}

type QuantumState struct {
	EntangledPairs     []Entanglement  `json:"entangled_pairs"`
	MeasurementHistory []Measurement   `json:"measurement_history"`
	Teleportations     []Teleportation `json:"teleportations"`
}

// Recorder receives every completed measurement and teleportation.
type Recorder interface {
	RecordMeasurement(m Measurement) error
	RecordTeleportation(t Teleportation) error
}
