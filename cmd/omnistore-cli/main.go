package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/eniz1806/omnistore/internal/client"
	"github.com/eniz1806/omnistore/internal/fingerprint"
)

var version = "dev"

type globals struct {
	server      string
	insecure    bool
	fingerprint string
	retries     int
	timeout     time.Duration
	verbose     bool
	stdout      io.Writer
	stderr      io.Writer
}

type command struct {
	usage   string
	summary string
	run     func(ctx context.Context, g *globals, c *client.Client, args []string) error
}

const (
	usageListBuckets  = "list-buckets"
	usageCreateBucket = "create-bucket <bucket>"
	usageDeleteBucket = "delete-bucket <bucket>"
	usageListObjects  = "list-objects <bucket> [--prefix p]"
	usageUpload       = "upload <file> <bucket> [key] [--force]"
	usageDownload     = "download <bucket> <key> [file] [--no-resume]"
	usageDelete       = "delete <bucket> <key>"
	usageSync         = "sync <dir> <bucket> [--prefix p] [--exclude pattern]..."
	usageHealth       = "health"
)

var commands = map[string]command{
	"list-buckets":  {usageListBuckets, "List all buckets", runListBuckets},
	"create-bucket": {usageCreateBucket, "Create a bucket", runCreateBucket},
	"delete-bucket": {usageDeleteBucket, "Delete a bucket and its objects", runDeleteBucket},
	"list-objects":  {usageListObjects, "List objects in a bucket", runListObjects},
	"upload":        {usageUpload, "Upload a file, skipping identical remote objects", runUpload},
	"download":      {usageDownload, "Download an object, resuming partial files", runDownload},
	"delete":        {usageDelete, "Delete an object", runDelete},
	"sync":          {usageSync, "Upload a directory tree", runSync},
	"health":        {usageHealth, "Show server health", runHealth},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	g := &globals{stdout: stdout, stderr: stderr}
	flags := pflag.NewFlagSet("omnistore-cli", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)
	flags.StringVarP(&g.server, "server", "s", envOrDefault("OMNISTORE_SERVER", "http://localhost:8443"), "server URL ($OMNISTORE_SERVER)")
	flags.BoolVarP(&g.insecure, "insecure", "k", false, "skip TLS certificate verification")
	flags.StringVar(&g.fingerprint, "fingerprint", string(fingerprint.Default), "fingerprint algorithm used by the server (md5, blake2b or blake3)")
	flags.IntVar(&g.retries, "retries", 3, "attempts per request for transient failures")
	flags.DurationVar(&g.timeout, "timeout", 30*time.Second, "timeout of a single request attempt")
	flags.BoolVarP(&g.verbose, "verbose", "V", false, "log every transfer state change")
	showVersion := flags.Bool("version", false, "print version and exit")
	flags.Usage = func() { printUsage(stderr, flags) }

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "omnistore-cli %s\n", version)
		return 0
	}

	rest := flags.Args()
	if len(rest) == 0 {
		printUsage(stderr, flags)
		return 2
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		printUsage(stderr, flags)
		return 2
	}

	c, err := g.client()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, g, c, rest[1:]); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func (g *globals) client() (*client.Client, error) {
	alg, err := fingerprint.Parse(g.fingerprint)
	if err != nil {
		return nil, err
	}
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(g.stderr, &slog.HandlerOptions{Level: level}))

	opts := client.Options{
		Insecure:       g.insecure,
		Retry:          client.RetryPolicy{MaxAttempts: g.retries},
		AttemptTimeout: g.timeout,
		Fingerprint:    alg,
		Logger:         logger,
		UserAgent:      "omnistore-cli/" + version,
	}
	if g.verbose {
		opts.OnState = func(t client.Transition) {
			logger.Debug("transfer state", "op", t.Op, "target", t.Target,
				"from", t.From, "to", t.To, "attempt", t.Attempt, "error", t.Err)
		}
	}
	return client.New(g.server, opts)
}

func printUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: omnistore-cli [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global Flags:")
	fmt.Fprint(w, flags.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-58s %s\n", commands[name].usage, commands[name].summary)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// subFlags returns a flag set for one subcommand that reports errors to the
// command's stderr.
func subFlags(g *globals, name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(g.stderr)
	return fs
}
