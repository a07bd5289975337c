package main

import (
	"github.com/alechenninger/tollgate/internal/cli"
)

func main() {
	cli.Execute()
}
