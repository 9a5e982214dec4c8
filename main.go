package main

import (
	"os"

	"github.com/openmta/searchx/coremain"

	_ "github.com/openmta/searchx/lookup/all"
)

func main() {
	if err := coremain.Run(); err != nil {
		os.Exit(1)
	}
}
