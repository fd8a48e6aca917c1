// Command edged is the supervisor binary: it parses the flags documented
// in spec.md §6, builds a Supervisor, boots it, and waits for SIGINT/SIGTERM
// to drive an orderly shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edged/edged/internal/configtree"
	"github.com/edged/edged/internal/logx"
	"github.com/edged/edged/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	installOnly := flag.Bool("install", false, "install phase only, skip startEverything")
	dryrun := flag.Bool("dryrun", false, "use the DryRun ShellRunner instead of executing scripts")
	forreal := flag.Bool("forreal", false, "force real execution, overriding -dryrun")
	configSrc := flag.String("config", "", "seed config from this YAML/JSON file")
	flag.StringVar(configSrc, "i", "", "shorthand for -config")
	logPath := flag.String("log", "", "write system.logfile to this path")
	flag.StringVar(logPath, "l", "", "shorthand for -log")
	rootPath := flag.String("root", "", "root path (default: current directory)")
	flag.StringVar(rootPath, "r", "", "shorthand for -root")
	mainName := flag.String("main", "", "override the main service name (default: \"main\")")
	print := flag.Bool("print", false, "dump resolved config to stdout and exit before install/start")
	flag.Parse()

	opts := supervisor.Options{
		RootPath:    *rootPath,
		ConfigSrc:   *configSrc,
		LogPath:     *logPath,
		MainName:    *mainName,
		DryRun:      resolveDryRun(*dryrun, *forreal),
		InstallOnly: *installOnly,
		Print:       *print,
	}

	return execute(context.Background(), logx.Console("edged"), opts, os.Stdout)
}

// resolveDryRun reconciles the two ShellRunner-selection flags: -forreal
// always wins, since it is the explicit ask for real execution regardless
// of whatever -dryrun says.
func resolveDryRun(dryrun, forreal bool) bool {
	return dryrun && !forreal
}

// execute boots a fresh Supervisor from opts and either dumps the resolved
// config (Print), or blocks until SIGINT/SIGTERM and drives a shutdown.
// Split out of run so tests can drive it directly without touching
// flag.CommandLine or os.Args.
func execute(ctx context.Context, logger logx.Logger, opts supervisor.Options, stdout io.Writer) int {
	s := supervisor.New(logger, opts.DryRun)

	bootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.Boot(bootCtx, opts); err != nil {
		logger.Error().Err(err).Msg("boot failed")
		return 126
	}

	if opts.Print {
		data, err := configtree.EncodeYAML(s.Tree.Root())
		if err != nil {
			logger.Error().Err(err).Msg("encode resolved config")
			return 126
		}
		fmt.Fprint(stdout, string(data))
		return 0
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
	s.Shutdown(10 * time.Second)
	return 0
}
