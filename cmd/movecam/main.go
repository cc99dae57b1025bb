package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/totoroyyb/movecam"
)

var buildVersion = "dev"

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	cfg, err := movecam.LoadConfig(flagConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Flags set explicitly on the command line win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Device = flagInput
		case "helper":
			cfg.Helper = flagHelper
		case "fps":
			cfg.FPS = flagFPS
		case "buffers":
			cfg.Buffers = flagBuffers
		case "server":
			cfg.ServerAddr = flagServer
		case "env-file":
			cfg.EnvFile = flagEnvFile
		case "preview":
			cfg.PreviewAddr = flagPreviewAddr
		case "dump":
			cfg.Dump = flagDump
		}
	})

	pipeline, err := movecam.NewPipeline(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := pipeline.Run(ctx)
	if err := pipeline.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
	fmt.Println("Exiting...")
}
