// Package bridge serves the quantum network over HTTP on the local network.
//
// A Server walks boot -> appeared -> discovered -> entangled -> live before it
// reports ready. Service wraps the Server with the listener, the status file
// loop and signal-driven shutdown.
package bridge
