package main

import (
	"github.com/vuive/marketsync/internal/cli"
)

func main() {
	cli.Execute()
}
