package main

import (
	"fmt"
	"os"

	"github.com/papercomputeco/chatrelay/cmd/chatrelay/relaycmder"
)

func main() {
	cmd := relaycmder.NewRelayCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatrelay: %v\n", err)
		os.Exit(1)
	}
}
