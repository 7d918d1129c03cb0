package main

import (
	"os"

	"github.com/j-veylop/antigravity-quota-hub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
