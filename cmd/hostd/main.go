// Command hostd is the reference process that wires C1-C7 together. It uses
// cobra directly for its command line; configuration loading (viper) lives in
// internal/config and the HTTP transport (gin) in adapters/httpapi, both
// peripheral to the core components.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
