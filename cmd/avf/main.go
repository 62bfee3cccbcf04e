package main

import (
	"github.com/meridianvfx/avf/cmd/avf/cmd"
)

func main() {
	cmd.Execute()
}
