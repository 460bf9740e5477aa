package main

import (
	"log"

	"github.com/PatchLens/go-inject-lens/lens"
	"github.com/PatchLens/go-inject-lens/lens/cmd"
)

func main() {
	log.SetFlags(log.LstdFlags)

	if err := cmd.Execute(); err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}
}
