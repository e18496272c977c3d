package quantum

const (
	IBMQuantumHost = "quantum-computing.ibm.com"
	IBMQuantumPort = 443
	LocalNodeID    = "local_node"
)

// PresetNodes is the default three-backend network. The local simulator node
// is appended by SeedPreset since its address is only known at runtime.
func PresetNodes() []Node {
	return []Node{
		{ID: "ibm_fez", Address: IBMQuantumHost, Port: IBMQuantumPort, Backend: "ibm_fez", Qubits: 156},
		{ID: "ibm_torino", Address: IBMQuantumHost, Port: IBMQuantumPort, Backend: "ibm_torino", Qubits: 133},
		{ID: "ibm_marrakesh", Address: IBMQuantumHost, Port: IBMQuantumPort, Backend: "ibm_marrakesh", Qubits: 156},
	}
}

// SeedPreset registers PresetNodes plus local_node at localIP:port.
// Nodes already present are left alone. It returns the number added.
func (n *Network) SeedPreset(localIP string, port int) int {
	nodes := append(PresetNodes(), Node{
		ID:      LocalNodeID,
		Address: localIP,
		Port:    port,
		Backend: "simulator",
		Qubits:  8,
		Local:   true,
	})
	added := 0
	for _, node := range nodes {
		if _, ok := n.Node(node.ID); ok {
			continue
		}
		if err := n.AddNode(node); err == nil {
			added++
		}
	}
	return added
}
