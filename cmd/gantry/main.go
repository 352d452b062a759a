package main

import (
	"github.com/gantryhq/gantry/internal/cli"
)

func main() {
	cli.Execute()
}
