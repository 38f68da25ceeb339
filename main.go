package main

import "github.com/kozaktomas/evidence-faces/cmd"

func main() {
	cmd.Execute()
}
