package main

import (
	"flag"
	"fmt"
	"os"

	"cellwire/client/internal/logging"
	"cellwire/client/tools/capture_inspect"
)

func main() {
	path := flag.String("path", "", "capture bundle directory to replay")
	dir := flag.String("dir", "", "capture root to list instead of replaying one bundle")
	verbose := flag.Bool("v", false, "log replay diagnostics at debug level")
	flag.Parse()

	if (*path == "") == (*dir == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -path or -dir is required")
		os.Exit(1)
	}

	var (
		result any
		err    error
	)
	if *dir != "" {
		result, err = captureinspect.List(*dir)
	} else {
		//1.- Diagnostics go to stderr so stdout stays valid JSON.
		level := logging.WarnLevel
		if *verbose {
			level = logging.DebugLevel
		}
		result, err = captureinspect.Inspect(*path, logging.NewWriter(os.Stderr, level))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	//2.- Render as JSON so the output can be piped into other tooling.
	payload, err := captureinspect.Marshal(result)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
	fmt.Println(string(payload))
}
