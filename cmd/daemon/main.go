// aft-resolver resolves RIB routes recursively and streams the resulting
// AFTs over gNMI.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
