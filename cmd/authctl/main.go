// Command authctl drives the authd admin API. Every request is signed with the shared
// admin secret.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
