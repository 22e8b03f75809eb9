package main

import "workflow_tracker/cmd"

// version is injected via ldflags: -X main.version=0.2.0
var version = "dev"

func main() {
	cmd.Execute(version)
}
