package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/msageha/cistatsd/internal/config"
	"github.com/msageha/cistatsd/internal/daemon"
	"github.com/msageha/cistatsd/internal/setup"
	"github.com/msageha/cistatsd/internal/status"
	"github.com/msageha/cistatsd/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "tick":
		runTick(os.Args[2:])
	case "build-completed":
		runBuildCompleted(os.Args[2:])
	case "stop":
		runStop(os.Args[2:])
	case "version":
		fmt.Printf("cistatsd %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// newFlagSet returns a flag set with the --dir flag every command accepts.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	dir := fs.String("dir", "", "path to the .cistatsd directory (default: search upwards from the working directory)")
	return fs, dir
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runDaemon(args []string) {
	fs, dirFlag := newFlagSet("daemon")
	_ = fs.Parse(args)
	baseDir := resolveBaseDir(*dirFlag)

	cfg, err := config.Load(filepath.Join(baseDir, config.FileName))
	if err != nil {
		fail("load config: %v", err)
	}

	d, err := daemon.New(baseDir, config.NewStore(filepath.Join(baseDir, config.FileName), cfg))
	if err != nil {
		fail("create daemon: %v", err)
	}
	if err := d.Run(); err != nil {
		fail("daemon: %v", err)
	}
}

func runSetup(args []string) {
	fs := pflag.NewFlagSet("setup", pflag.ExitOnError)
	var opts setup.Options
	fs.StringVar(&opts.StatsdHost, "statsd-host", "", "statsd host to send metrics to")
	fs.IntVar(&opts.StatsdPort, "statsd-port", 0, "statsd UDP port")
	fs.StringVar(&opts.Prefix, "prefix", "", "metric name prefix")
	fs.StringVar(&opts.JenkinsURL, "jenkins-url", "", "Jenkins base URL")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: cistatsd setup <project_dir> [options]")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	base, err := setup.Run(fs.Arg(0), opts)
	if err != nil {
		fail("setup: %v", err)
	}
	fmt.Printf("Initialized %s\n", base)
}

func runStatus(args []string) {
	fs, dirFlag := newFlagSet("status")
	jsonOutput := fs.Bool("json", false, "print the report as JSON")
	_ = fs.Parse(args)

	if err := status.Run(resolveBaseDir(*dirFlag), *jsonOutput, os.Stdout); err != nil {
		fail("status: %v", err)
	}
}

func runTick(args []string) {
	fs, dirFlag := newFlagSet("tick")
	_ = fs.Parse(args)

	summary, err := uds.ClientFor(resolveBaseDir(*dirFlag)).Tick()
	if uds.IsBusy(err) {
		fail("tick: a tick is already running, try again shortly")
	}
	if err != nil {
		fail("tick: %v", err)
	}
	printJSON(summary)
}

func runBuildCompleted(args []string) {
	fs, dirFlag := newFlagSet("build-completed")
	var p uds.BuildCompletedParams
	fs.StringVar(&p.Job, "job", "", "full name of the job that finished (required)")
	fs.StringVar(&p.Result, "result", "", "build result, e.g. SUCCESS or FAILURE")
	fs.Int64Var(&p.DurationMs, "duration-ms", 0, "build duration in milliseconds")
	duration := fs.Duration("duration", 0, "build duration as a Go duration, e.g. 4.2s (overrides --duration-ms)")
	_ = fs.Parse(args)

	if *duration != 0 {
		p.DurationMs = duration.Milliseconds()
	}
	if err := uds.ClientFor(resolveBaseDir(*dirFlag)).BuildCompleted(p); err != nil {
		fail("build-completed: %s", errorMessage(err))
	}
}

func runStop(args []string) {
	fs, dirFlag := newFlagSet("stop")
	_ = fs.Parse(args)

	if err := uds.ClientFor(resolveBaseDir(*dirFlag)).Shutdown(); err != nil {
		fail("stop: %s", errorMessage(err))
	}
	fmt.Println("shutdown requested")
}

// errorMessage drops the error code from daemon rejections.
func errorMessage(err error) string {
	var detail *uds.ErrorDetail
	if errors.As(err, &detail) {
		return detail.Message
	}
	return err.Error()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func resolveBaseDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	dir := findBaseDir()
	if dir == "" {
		fail("error: %s/ directory not found. Run 'cistatsd setup <dir>' first.", setup.DirName)
	}
	return dir
}

// findBaseDir searches for .cistatsd/ in the current directory and ancestors.
func findBaseDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, setup.DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cistatsd %s - CI server metrics for statsd

Usage: cistatsd <command> [options]

Setup:
  setup <dir> [--statsd-host H] [--statsd-port P] [--prefix P] [--jenkins-url U]
                    Initialize .cistatsd/ with a default config.yaml

Daemon:
  daemon            Run the sampling daemon in the foreground
  status [--json]   Show daemon state and the last tick
  tick              Sample and emit now, outside the schedule
  stop              Ask the daemon to shut down

CI hooks:
  build-completed --job <name> [--result R] [--duration-ms N | --duration D]
                    Report a finished build

Utilities:
  version           Show version
  help              Show this help

Every command except setup, version and help accepts --dir to point at a .cistatsd directory.

`, version)
}
