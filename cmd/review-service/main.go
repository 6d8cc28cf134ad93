package main

import (
	"os"

	"github.com/mewiskl/zama-Talklet-Review/reviewservice"
)

func main() {
	if err := reviewservice.Run(); err != nil {
		os.Exit(1)
	}
}
