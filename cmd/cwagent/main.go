// Command cwagent serves logistics skills backed by the tool server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/config"
	"github.com/effective-security/xlog"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/cwagent/cmd", "cwagent")

// Version is set at build time
var Version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		cfgFile string
		envFile string
		debug   bool
	)

	flagSet := pflag.NewFlagSet("cwagent", pflag.ContinueOnError)
	flagSet.StringVar(&cfgFile, "cfg", "", "path to the configuration file, defaults are used when empty")
	flagSet.StringVar(&envFile, "env", ".env", "path to the environment file expanded in the configuration")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logs")
	flagSet.BoolP("version", "v", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if v, _ := flagSet.GetBool("version"); v {
		fmt.Println("cwagent", Version)
		return nil
	}

	if err := godotenv.Load(envFile); err != nil && flagSet.Changed("env") {
		return errors.WithMessagef(err, "unable to load %q", envFile)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if debug || cfg.Server.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Serve(ctx)
}
