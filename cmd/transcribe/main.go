package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/lexiqai/media-transcriber/internal/app"
	"github.com/lexiqai/media-transcriber/internal/config"
	"github.com/lexiqai/media-transcriber/internal/jobs"
	"github.com/lexiqai/media-transcriber/internal/observability"
	"github.com/lexiqai/media-transcriber/internal/pipeline"
)

const usageText = `Usage:
  transcribe [flags] FILE...                     transcribe local media files
  transcribe -kind single [-video] URL...        download and transcribe media URLs
  transcribe -kind playlist [-video] URL         download and transcribe a playlist
  transcribe -manifest BATCHES.yaml              run every batch of a YAML batch file in turn
  transcribe -recover GROUP                      merge transcripts left by an interrupted run

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one CLI invocation and returns the process exit code:
// 0 on success, 1 when every request failed, 2 on bad usage or input.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		kindName    string
		wantVideo   bool
		recoverName string
		manifest    string
		storageRoot string
		workers     int
	)
	fs.StringVar(&kindName, "kind", "local", "Input kind: local|single|playlist")
	fs.BoolVar(&wantVideo, "video", false, "Download muxed video instead of audio only")
	fs.StringVar(&recoverName, "recover", "", "Merge persisted *_enhanced.txt files into GROUP.txt and exit")
	fs.StringVar(&manifest, "manifest", "", "YAML batch file to run instead of command-line inputs")
	fs.StringVar(&storageRoot, "storage", "", "Storage root (overrides STORAGE_ROOT)")
	fs.IntVar(&workers, "workers", 0, "Items processed concurrently (overrides WORKERS)")
	usage := func() {
		fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 2
	}
	if storageRoot != "" {
		cfg.StorageRoot = storageRoot
	}
	if workers > 0 {
		cfg.Workers = workers
	}

	var requests []pipeline.Request
	if recoverName == "" {
		if requests, err = loadRequests(manifest, jobs.SubmitRequest{Kind: kindName, Inputs: fs.Args(), Video: wantVideo}); err != nil {
			fmt.Fprintf(stderr, "error: %v\n\n", err)
			if manifest == "" {
				usage()
			}
			return 2
		}
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.Component("transcribe")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer a.Close()

	if recoverName != "" {
		out, err := a.Reassembler.Recover(recoverName)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
		return 0
	}

	failed := 0
	final := map[string]bool{}
	for _, req := range requests {
		report, err := a.Driver.Run(ctx, req)
		for _, msg := range report.ErrorMessages() {
			fmt.Fprintf(stderr, "warning: %s\n", msg)
		}
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			failed++
			continue
		}
		for _, out := range report.Outputs {
			fmt.Fprintln(stdout, out)
			final[out] = true
		}
		if report.State == pipeline.CompletedWithErrors {
			fmt.Fprintf(stderr, "%d outputs produced, %d inputs had errors\n", len(report.Outputs), len(report.Errors))
		}
	}

	if orphans, err := a.Workspace.Orphans(); err == nil {
		for _, o := range orphans {
			// a lone transcript is itself the final output
			if final[o] {
				continue
			}
			logger.Warn().Str("path", o).Msg("Intermediate file left in storage root")
		}
	}

	if failed == len(requests) {
		return 1
	}
	return 0
}

// loadRequests reads a batch file when one is given, otherwise validates
// the command-line batch.
func loadRequests(manifest string, cli jobs.SubmitRequest) ([]pipeline.Request, error) {
	if manifest == "" {
		req, err := cli.Request()
		if err != nil {
			return nil, err
		}
		return []pipeline.Request{req}, nil
	}

	f, err := os.Open(manifest)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return jobs.LoadManifest(f)
}
