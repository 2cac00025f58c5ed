package main

import (
	"os"

	"github.com/soundprediction/kpset/cmd/kpset"
)

func main() {
	if err := kpset.Execute(); err != nil {
		os.Exit(1)
	}
}
