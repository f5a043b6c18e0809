package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/23skdu/nnue-export/internal/logger"
	"github.com/23skdu/nnue-export/internal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	defaults := pipeline.DefaultOptions()

	fs := flag.NewFlagSet("nnue-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", defaults.Input, "Path to the training checkpoint")
	output := fs.String("output", defaults.Output, "Path of the deployment model to write")
	checkOverflow := fs.Bool("check-overflow", false, "Fail when a quantized value does not fit its integer type instead of wrapping")
	verify := fs.Bool("verify", false, "Decode the written model and compare it against the source weights")
	reportPath := fs.String("report", "", "Write a per-tensor quantization report (Arrow IPC file)")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus metrics in textfile format")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "console", "Log format: console or json")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return 2
	}

	logger.SetOutput(stderr, *logLevel, *logFormat)

	opts := defaults
	opts.Input = *input
	opts.Output = *output
	opts.CheckOverflow = *checkOverflow
	opts.Verify = *verify
	opts.ReportPath = *reportPath
	opts.MetricsFile = *metricsFile

	res, err := pipeline.Run(opts)
	if err != nil {
		logger.Log.Error("conversion failed", "input", opts.Input, "output", opts.Output, "error", err)
		return 1
	}
	logger.Log.Info("wrote deployment model", "path", opts.Output, "bytes", res.BytesWritten, "run_id", res.RunID)
	return 0
}
