package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Pablu23/lenxfer/internal/client"
	"github.com/Pablu23/lenxfer/internal/config"
	"github.com/Pablu23/lenxfer/internal/server"
)

const usage = "Usage: lenxfer <server|client>"

type flags struct {
	config      string
	address     string
	file        string
	out         string
	maxConns    int64
	timeout     time.Duration
	metricsAddr string
	verbose     bool
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "lenxfer <server|client>",
		Short: "Send one file over TCP behind a 4 byte length prefix",
		Long: "lenxfer server sends a local file to every client that connects.\n" +
			"lenxfer client connects once and saves the received file.",
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			run(cmd, args, f)
		},
	}

	cmd.Flags().StringVarP(&f.config, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&f.address, "addr", "a", "", "server address to listen on or connect to (default 127.0.0.1:8080)")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "file the server sends (default example.txt)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "file the client writes (default received_example.txt)")
	cmd.Flags().Int64Var(&f.maxConns, "max-conns", 0, "connections the server handles at once (default 16)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per connection I/O timeout, 0 disables it")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")

	return cmd
}

func setupLogging(cmd *cobra.Command, verbose bool) {
	log.SetOutput(cmd.ErrOrStderr())
	log.SetFormatter(&log.TextFormatter{
		ForceColors: true,
	})
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Server.Address = f.address
		cfg.Client.Address = f.address
	}
	if changed("file") {
		cfg.Server.SourcePath = f.file
	}
	if changed("out") {
		cfg.Client.OutputPath = f.out
	}
	if changed("max-conns") {
		cfg.Server.MaxConnections = f.maxConns
	}
	if changed("timeout") {
		cfg.Server.IOTimeout = f.timeout
		cfg.Client.IOTimeout = f.timeout
	}
	if changed("metrics-addr") {
		cfg.Server.MetricsAddress = f.metricsAddr
	}
	return cfg, nil
}

func run(cmd *cobra.Command, args []string, f *flags) {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	setupLogging(cmd, f.verbose)

	if len(args) < 1 {
		fmt.Fprintln(stderr, usage)
		return
	}

	role := args[0]
	if role != "server" && role != "client" {
		fmt.Fprintln(stderr, "Invalid argument. Use 'server' or 'client'.")
		return
	}

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return
	}

	switch role {
	case "server":
		fmt.Fprintln(stdout, "Starting server...")
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runServer(ctx, cfg); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
		}
	case "client":
		fmt.Fprintln(stdout, "Starting client...")
		if err := runClient(cmd.Context(), cfg); err != nil {
			fmt.Fprintf(stderr, "Client error: %v\n", err)
		}
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	srv, err := server.New(cfg.ServerOptions())
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func runClient(ctx context.Context, cfg *config.Config) error {
	_, err := client.GetFile(ctx, cfg.ClientOptions())
	return err
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.WithError(err).Debug("Command failed")
	}
}
