// Command chatctl is a terminal client for marketplace conversations: it
// streams replies, shows history and manages the local workspace stores.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
