package main

import (
	"os"

	"github.com/mewiskl/zama-Talklet-Review/oracleworker"
)

func main() {
	if err := oracleworker.Run(); err != nil {
		os.Exit(1)
	}
}
