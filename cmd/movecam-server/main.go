// The inference server: binds the address given as the first argument and
// serves the pose RPC with adaptive admission control.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/totoroyyb/movecam/internal/server"
)

var buildVersion = "dev"

var (
	flagWorkers     int
	flagMetricsAddr string
	flagHelp        bool
	flagVersion     bool
)

func init() {
	flag.IntVarP(&flagWorkers, "workers", "w", server.DefaultWorkers, "Handler worker threads")
	flag.StringVarP(&flagMetricsAddr, "metrics", "m", "", "Serve Prometheus metrics on this address")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Pose inference server

Usage: movecam-server [OPTION]... BIND_ADDR:PORT

Options:
  -w, --workers=NUM      Handler worker threads (default: 10)
  -m, --metrics=ADDR     Serve Prometheus metrics on this address
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits
`

func main() {
	flag.Parse()

	if flagHelp {
		fmt.Print(helpString)
		os.Exit(0)
	}
	if flagVersion {
		bold := color.New(color.Bold)
		bold.Print("movecam-server")
		fmt.Printf(" %s\n", buildVersion)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "No bind address is supplied. Format: IP_ADDR:PORT")
		os.Exit(1)
	}

	// The inference runtime is linked by the deployment; this binary
	// ships the wiring backend, which answers every admitted request
	// with an empty vector.
	inf := server.InfererFunc(func(rgb []byte, w, h int) ([]float32, error) {
		return []float32{}, nil
	})

	s, err := server.New(server.Options{
		Addr:    flag.Arg(0),
		Workers: flagWorkers,
	}, inf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if flagMetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", s.MetricsHandler())
			http.ListenAndServe(flagMetricsAddr, mux)
		}()
	}

	fmt.Printf("Listening to local address: %s\n", s.Addr())
	if err := s.Serve(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
