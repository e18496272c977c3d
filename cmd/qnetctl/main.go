// Command qnetctl operates a qbridge install: launch and stop it in the
// background, probe it, open the host firewall and inspect its history.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qnetctl: %v\n", err)
		os.Exit(1)
	}
}
