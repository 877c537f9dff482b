package main

import (
	"log/slog"
	"os"

	"github.com/nextlevelbuilder/goblast/cmd"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	})))
	cmd.Execute()
}

func logLevel() slog.Level {
	if os.Getenv("GOBLAST_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
