// Command qbridge runs the quantum network bridge in the foreground.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qbridge: %v\n", err)
		os.Exit(1)
	}
}
