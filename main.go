// Package main is the entry point for the backbone command.
package main

import (
	"context"
	"os"

	"backbone/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
