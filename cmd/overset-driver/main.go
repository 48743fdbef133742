package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/notargets/gocca"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/notargets/OversetGrid/buffer/occa"
	"github.com/notargets/OversetGrid/config"
	"github.com/notargets/OversetGrid/driver"
	"github.com/notargets/OversetGrid/engine"
	"github.com/notargets/OversetGrid/meshio"
	"github.com/notargets/OversetGrid/overset"
	"github.com/notargets/OversetGrid/partitions"
)

// Version is set via ldflags
var Version = "dev"

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:    "overset-driver",
		Usage:   "register overset grid blocks and run connectivity and data exchange",
		Version: Version,
		Commands: []*cli.Command{
			runCommand(),
			inspectCommand(),
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the configured blocks through connectivity and the step loop",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"OVERSET_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "metrics",
				Usage: "write Prometheus metrics to this file when the run ends",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := cfg.Log.Logger("overset", os.Stderr)

	comm, err := engine.CommunicatorFromEnv(engine.ExitAborter(logger))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	opts := []overset.Option{overset.WithLogger(logger), overset.WithRegisterer(reg)}
	if cfg.Device != "" {
		device, err := newDevice(cfg.Device)
		if err != nil {
			comm.Abort(engine.AbortCode, err)
			return err
		}
		defer device.Free()
		logger.Info("device buffers enabled", "mode", device.Mode())
		opts = append(opts, overset.WithProvider(occa.NewDeviceProvider(nil, device)))
	}

	proc, err := overset.NewProcess(comm, engine.NewLocalEngine(cfg.OutputDir, logger), opts...)
	if err != nil {
		return err
	}
	d := driver.New(cfg, proc, driver.WithLogger(logger))
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error("teardown", "error", err)
		}
	}()

	if err = d.Setup(); err != nil {
		comm.Abort(engine.AbortCode, err)
		return err
	}
	if err = d.Run(); err != nil {
		comm.Abort(engine.AbortCode, err)
		return err
	}

	if path := c.String("metrics"); path != "" {
		if err = prometheus.WriteToTextfile(path, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func newDevice(name string) (*gocca.OCCADevice, error) {
	if name == "auto" {
		return occa.NewDevice()
	}
	return occa.NewDevice(occa.ModeProps(name))
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "summarize meshes and their decomposition",
		ArgsUsage: "<mesh> [mesh...]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "ranks",
				Usage: "number of ranks to partition across",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "partition",
				Usage: "partition strategy: block, round-robin, graph, morton",
				Value: "block",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log every partition",
			},
		},
		Action: inspect,
	}
}

func inspect(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("inspect needs at least one mesh file", 2)
	}
	strategy, err := partitions.ParseStrategy(c.String("partition"))
	if err != nil {
		return err
	}
	level := hclog.Info
	if c.Bool("verbose") {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{Name: "inspect", Level: level, Output: os.Stderr})

	for _, path := range c.Args().Slice() {
		m, err := meshio.ReadMesh(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\n%s", path, m)

		pb := &partitions.PartitionBuilder{Mesh: m.Conn, NumPartitions: c.Int("ranks"), Strategy: strategy}
		layout, err := pb.BuildPartitions()
		if err != nil {
			return err
		}
		stats := layout.PartitionStatistics()
		fmt.Fprintf(c.App.Writer, "  Partitions: %d, elements min %d max %d, imbalance %.3f\n",
			stats.NumPartitions, stats.MinElements, stats.MaxElements, stats.Imbalance)
		for _, p := range layout.Partitions {
			logger.Debug("partition", "mesh", path, "rank", p.ID,
				"elements", p.NumElements, "nodes", len(p.LocalNodes))
		}
	}
	return nil
}
