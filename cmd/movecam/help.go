package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagConfig      string
	flagInput       string
	flagHelper      string
	flagFPS         uint32
	flagBuffers     int
	flagServer      string
	flagEnvFile     string
	flagPreviewAddr string
	flagDump        string
	flagHelp        bool
	flagVersion     bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	flag.StringVarP(&flagInput, "input", "i", "/dev/video0", "Video capture device")
	flag.StringVarP(&flagHelper, "helper", "", "/dev/camhelper", "Camera helper device")
	flag.Uint32VarP(&flagFPS, "fps", "r", 30, "Capture frame rate")
	flag.IntVarP(&flagBuffers, "buffers", "n", 1, "Capture buffers to request")
	flag.StringVarP(&flagServer, "server", "s", "", "Inference server address (IP:PORT)")
	flag.StringVarP(&flagEnvFile, "env-file", "e", "moveneter_sdk/env", "File carrying the server address")
	flag.StringVarP(&flagPreviewAddr, "preview", "p", "", "Serve the preview on this address")
	flag.StringVarP(&flagDump, "dump", "", "", "Write the first raw frame to this file")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Pose-keypoint capture over a split V4L2 driver

Usage: movecam [OPTION]...

Capture:
  -i, --input=FILE       Video capture device (default: /dev/video0)
      --helper=FILE      Camera helper device (default: /dev/camhelper)
  -r, --fps=NUM          Capture frame rate (default: 30)
  -n, --buffers=NUM      Capture buffers to request (default: 1)

Inference:
  -s, --server=ADDR      Inference server address, IP:PORT
  -e, --env-file=FILE    File carrying the server address
                         (default: moveneter_sdk/env)

Output:
  -p, --preview=ADDR     Serve the overlay preview on this address
      --dump=FILE        Write the first raw frame to this file

Miscellaneous:
  -c, --config=FILE      YAML config file; flags override it
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits
`

func help() {
	fmt.Print(helpString)
}

func version() {
	bold := color.New(color.Bold)
	bold.Print("movecam")
	fmt.Printf(" %s\n", buildVersion)
}
