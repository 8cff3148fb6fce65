// Command sortbench runs frames of spatial hashing, GPU bitonic sorting and offset extraction
// on a chosen device backend and reports throughput.
//
// Usage:
//
//	sortbench --elements 65536 --frames 120 --backend wgpu
//	sortbench --config bench.toml --verify=false
//
// Flags override values read from the config file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string
	flags := DefaultConfig()

	cmd := &cobra.Command{
		Use:           "sortbench",
		Short:         "Benchmark the spatial hash sort on a compute device",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, configPath, flags)
			if err != nil {
				return err
			}
			res, err := runBench(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "TOML or YAML config file")
	f.Uint32VarP(&flags.Elements, "elements", "n", flags.Elements, "number of particles per frame")
	f.Uint32Var(&flags.Buckets, "buckets", flags.Buckets, "offsets table size (default: elements)")
	f.Uint64VarP(&flags.Frames, "frames", "f", flags.Frames, "number of frames to run")
	f.StringVarP(&flags.Backend, "backend", "b", flags.Backend, "device backend: wgpu or cpu")
	f.BoolVar(&flags.Fallback, "fallback-adapter", flags.Fallback, "force the software fallback adapter (wgpu)")
	f.IntVar(&flags.Workers, "workers", flags.Workers, "worker count of the cpu backend (default: NumCPU-1)")
	f.Uint32Var(&flags.LocalBlock, "local-block", flags.LocalBlock, "local block size (default: device maximum)")
	f.Float32Var(&flags.CellSize, "cell-size", flags.CellSize, "hash grid cell size")
	f.Float32Var(&flags.Extent, "extent", flags.Extent, "world edge length")
	f.Uint64Var(&flags.Seed, "seed", flags.Seed, "random seed")
	f.BoolVar(&flags.Verify, "verify", flags.Verify, "check every frame against the host")
	f.BoolVar(&flags.Profile, "profile", flags.Profile, "log profiler statistics")
	f.BoolVar(&flags.StopOnErr, "stop-on-error", flags.StopOnErr, "stop at the first failed frame")
	f.StringVar(&flags.Timeout, "read-timeout", flags.Timeout, "read-back timeout")
	return cmd
}

// resolveConfig loads the config file, if any, and applies every flag set on the command line.
func resolveConfig(cmd *cobra.Command, path string, flags Config) (Config, error) {
	if path == "" {
		return flags, nil
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	changed := cmd.Flags().Changed
	if changed("elements") {
		cfg.Elements = flags.Elements
	}
	if changed("buckets") {
		cfg.Buckets = flags.Buckets
	}
	if changed("frames") {
		cfg.Frames = flags.Frames
	}
	if changed("backend") {
		cfg.Backend = flags.Backend
	}
	if changed("fallback-adapter") {
		cfg.Fallback = flags.Fallback
	}
	if changed("workers") {
		cfg.Workers = flags.Workers
	}
	if changed("local-block") {
		cfg.LocalBlock = flags.LocalBlock
	}
	if changed("cell-size") {
		cfg.CellSize = flags.CellSize
	}
	if changed("extent") {
		cfg.Extent = flags.Extent
	}
	if changed("seed") {
		cfg.Seed = flags.Seed
	}
	if changed("verify") {
		cfg.Verify = flags.Verify
	}
	if changed("profile") {
		cfg.Profile = flags.Profile
	}
	if changed("stop-on-error") {
		cfg.StopOnErr = flags.StopOnErr
	}
	if changed("read-timeout") {
		cfg.Timeout = flags.Timeout
	}
	return cfg, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
