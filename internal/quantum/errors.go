package quantum

import "errors"

var (
	ErrInvalidNodeID         = errors.New("quantum: invalid node id")
	ErrNodeExists            = errors.New("quantum: node already registered")
	ErrNodeNotFound          = errors.New("quantum: node not found")
	ErrEntanglementNotFound  = errors.New("quantum: entanglement not found")
	ErrNodeNotInEntanglement = errors.New("quantum: node is not part of entanglement")
	ErrSelfEntangle          = errors.New("quantum: node cannot entangle with itself")
	ErrAlreadyEntangled      = errors.New("quantum: nodes already entangled")
	ErrNotEntangled          = errors.New("quantum: nodes are not entangled")
)
