package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/danmuck/satpctl/internal/logging"
	"github.com/google/subcommands"
)

var (
	configPath = flag.String("config", "", "path to a satpctl TOML config")
	dumpMetric = flag.Bool("metrics", false, "write prometheus metrics to stderr when the command finishes")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&encodeCmd{}, "codec")
	subcommands.Register(&decodeCmd{}, "codec")
	subcommands.Register(&dissectCmd{}, "capture")
	subcommands.Register(&craftCmd{}, "capture")
	subcommands.Register(&bindingsCmd{}, "")
	subcommands.Register(&shellCmd{}, "")
	subcommands.Register(&configCmd{}, "")
	flag.Parse()

	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	status := subcommands.Execute(ctx)
	stop()
	os.Exit(int(status))
}
