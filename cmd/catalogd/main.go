package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"catalogkv/internal/config"
	"catalogkv/internal/node"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:          "catalogd",
		Short:        "Run one replica of the product catalog",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if err := applyFlags(cmd.Flags(), &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return errors.Wrap(err, "invalid configuration")
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "YAML config file; flags override its values")
	flags.String("node-id", "", "node identifier")
	flags.String("name", "", "display name of the node")
	flags.String("listen", defaults.HTTPAddr, "HTTP listen address")
	flags.String("grpc-listen", "", "gRPC listen address for the replica service")
	flags.String("peers", "", "static peers as id=addr,id=addr")
	flags.String("transport", string(defaults.Transport), "peer snapshot transport: http or grpc")
	flags.Duration("fetch-timeout", defaults.FetchTimeout, "timeout of one peer snapshot fetch")
	flags.Int("retry-bound", defaults.RetryBound, "sync sweeps attempted per lagging key before proceeding")
	flags.Duration("sync-interval", 0, "background anti-entropy interval; 0 disables")
	flags.Int("sync-parallelism", defaults.SyncParallelism, "concurrent peer fetches per sweep")

	return cmd
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "node-id":
			cfg.NodeID, err = flags.GetString(f.Name)
		case "name":
			cfg.Name, err = flags.GetString(f.Name)
		case "listen":
			cfg.HTTPAddr, err = flags.GetString(f.Name)
		case "grpc-listen":
			cfg.GRPCAddr, err = flags.GetString(f.Name)
		case "peers":
			var s string
			if s, err = flags.GetString(f.Name); err == nil {
				cfg.Peers, err = config.ParsePeers(s)
			}
		case "transport":
			var s string
			if s, err = flags.GetString(f.Name); err == nil {
				cfg.Transport = config.Transport(s)
			}
		case "fetch-timeout":
			cfg.FetchTimeout, err = flags.GetDuration(f.Name)
		case "retry-bound":
			cfg.RetryBound, err = flags.GetInt(f.Name)
		case "sync-interval":
			cfg.SyncInterval, err = flags.GetDuration(f.Name)
		case "sync-parallelism":
			cfg.SyncParallelism, err = flags.GetInt(f.Name)
		}
	})
	return err
}

func run(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	n := node.NewNode(cfg)
	if err := n.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Printf("[%s] Shutting down", cfg.NodeID)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return n.Stop(shutdownCtx)
}
