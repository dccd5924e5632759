package main

import (
	"github.com/forkscan/cmd/cli/cmd"
)

func main() {
	cmd.Execute()
}
