// Command dmp maps passthrough devices that count their I/O and exposes
// the counters as a read-only file tree and as Prometheus metrics.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli"
)

var (
	debugFlag = cli.BoolFlag{
		Name:  "debug",
		Usage: "log at debug level and trace FUSE requests",
	}
	mountFlag = cli.StringFlag{
		Name:  "mount",
		Usage: "directory to mount the statistics tree at",
	}
	metricsFlag = cli.StringFlag{
		Name:  "metrics",
		Usage: "address to serve Prometheus /metrics on, e.g. :9100",
	}
	workersFlag = cli.IntFlag{
		Name:  "workers",
		Usage: "number of concurrent workers",
		Value: 4,
	}
	sizeFlag = cli.IntFlag{
		Name:  "size",
		Usage: "request size in bytes",
		Value: 4096,
	}
	opsFlag = cli.IntFlag{
		Name:  "ops",
		Usage: "read/write pairs issued by each worker",
		Value: 1000,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "dmp"
	app.Usage = "passthrough block devices with I/O statistics"
	app.Version = "1.0.0"
	app.Commands = []cli.Command{
		{
			Name:      "serve",
			Usage:     "map devices and serve their statistics until interrupted",
			ArgsUsage: "NAME=DEVICE...",
			Flags:     []cli.Flag{mountFlag, metricsFlag, debugFlag},
			Action:    serveHandler,
		},
		{
			Name:      "bench",
			Usage:     "drive concurrent I/O through a mapped device and print its statistics",
			ArgsUsage: "DEVICE",
			Flags:     []cli.Flag{workersFlag, sizeFlag, opsFlag, debugFlag},
			Action:    benchHandler,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dmp:", err)
		os.Exit(1)
	}
}

type mapping struct {
	name   string
	device string
}

func parseMappings(args []string) ([]mapping, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected at least one NAME=DEVICE argument")
	}
	mappings := make([]mapping, 0, len(args))
	for _, arg := range args {
		name, device, ok := strings.Cut(arg, "=")
		if !ok || name == "" || device == "" {
			return nil, fmt.Errorf("invalid mapping %q, expected NAME=DEVICE", arg)
		}
		mappings = append(mappings, mapping{name: name, device: device})
	}
	return mappings, nil
}
