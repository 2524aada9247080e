// Package main is the entry point of the segment engine
package main

import "github.com/amirphl/segment-engine/cmd"

func main() {
	cmd.Execute()
}
