// Command dompetctl runs maintenance tasks against the dompet SQLite store.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
