package main

import "github.com/soundkeeplab/michold/cmd"

func main() {
	cmd.Execute()
}
