package main

import (
	"os"

	"meeting-pipeline/cmd/pipelinectl/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
