package main

import (
	"os"

	"github.com/hemolink/hemolink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
