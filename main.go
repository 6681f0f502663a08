package main

import (
	"log/slog"

	"github.com/BioHazard786/duocall/cmd"
	"github.com/BioHazard786/duocall/internal/logging"
)

func main() {
	logging.Init(slog.LevelError)
	cmd.Execute()
}
