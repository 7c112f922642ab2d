package main

import (
	"go.strata.dev/core/cmd/stratactl/stratactlcmd"
)

func main() {
	stratactlcmd.Execute()
}
