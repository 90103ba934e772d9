package main

import (
	"github.com/gabrielfalcao/agentzero/cmd/agentzero/cmd"
	"github.com/gabrielfalcao/agentzero/internal/logging"
)

func main() {
	logging.New()
	cmd.Execute()
}
