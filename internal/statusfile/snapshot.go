package statusfile

import (
	"time"

	"github.com/danmuck/qbridge/internal/quantum"
)

// Snapshot is the document the bridge writes every status interval.
type Snapshot struct {
	Network   NetworkSection `json:"network"`
	Quantum   QuantumSection `json:"quantum"`
	Bridge    BridgeSection  `json:"bridge"`
	Timestamp time.Time      `json:"timestamp"`
}

type NetworkSection struct {
	Status          string      `json:"status"`
	Validators      []Validator `json:"validators"`
	TotalValidators int         `json:"totalValidators"`
}

type Validator struct {
	Name          string   `json:"name"`
	Backend       string   `json:"backend"`
	Address       string   `json:"address"`
	Qubits        int      `json:"qubits"`
	Queue         int      `json:"queue"`
	Status        string   `json:"status"`
	EntangledWith []string `json:"entangledWith"`
}

type QuantumSection struct {
	TotalQubits    int `json:"totalQubitsAvailable"`
	ActiveNodes    int `json:"activeNodes"`
	EntangledPairs int `json:"entangledPairs"`
	Measurements   int `json:"measurements"`
	Teleportations int `json:"teleportations"`
}

type BridgeSection struct {
	Name    string `json:"name"`
	Addr    string `json:"addr"`
	LocalIP string `json:"localIP"`
	Phase   string `json:"phase"`
	PID     int    `json:"pid"`
}

// Build assembles a snapshot from network state.
func Build(status quantum.Status, nodes []quantum.Node, bridge BridgeSection) Snapshot {
	validators := make([]Validator, 0, len(nodes))
	active := 0
	for _, n := range nodes {
		if n.Status == quantum.NodeActive {
			active++
		}
		validators = append(validators, Validator{
			Name:          n.ID,
			Backend:       n.Backend,
			Address:       n.Address,
			Qubits:        n.Qubits,
			Queue:         n.Queue,
			Status:        string(n.Status),
			EntangledWith: n.EntangledWith,
		})
	}
	return Snapshot{
		Network: NetworkSection{
			Status:          status.Status,
			Validators:      validators,
			TotalValidators: len(validators),
		},
		Quantum: QuantumSection{
			TotalQubits:    status.TotalQubits,
			ActiveNodes:    active,
			EntangledPairs: status.EntangledPairs,
			Measurements:   status.Measurements,
			Teleportations: status.Teleportations,
		},
		Bridge:    bridge,
		Timestamp: status.Timestamp,
	}
}
