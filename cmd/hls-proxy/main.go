// Package main is the entry point for the hls-proxy application.
package main

import (
	"os"

	"hls-proxy-go/cmd/hls-proxy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
