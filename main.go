package main

import (
	"github.com/jjtimmons/pcrdesign/cmd"
)

func main() {
	cmd.Execute() // initialize cobra commands
}
