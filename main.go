package main

import "github.com/agentic-research/graphmaster/cmd"

func main() {
	cmd.Execute()
}
