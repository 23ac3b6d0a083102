package main

import (
	"fmt"
	"os"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/cmd/neuronctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
