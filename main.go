package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/omnibus_custody/cmd"
)

func main() {
	if err := cmd.Command().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("custody failed")
		os.Exit(1)
	}
}
