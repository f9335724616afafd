// Command gridfeed scrapes the grid operator's published CSV reports into a
// relational store and serves them back as JSON.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/gridfeed/gridfeed/internal/registry"
)

// Exit codes.
const (
	exitOK          = 0
	exitConfigError = 1
	exitRuntime     = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		var ce *registry.ConfigError
		switch {
		case errors.Is(err, context.Canceled):
			return exitInterrupted
		case errors.As(err, &ce), errors.Is(err, errUsage):
			log.Error().Err(err).Msg("configuration error")
			return exitConfigError
		default:
			log.Error().Err(err).Msg("failed")
			return exitRuntime
		}
	}
	return exitOK
}
