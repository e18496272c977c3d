// Package tools provides the command runners host adapters execute through.
//
// Ownership boundary:
// - local command execution
//
// - remote command execution over SSH
package tools
