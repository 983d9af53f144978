// Package cmd provides CLI commands for the unchunk binary.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/klaki892/chunked-dc/runtime"
)

// FormatFlag selects output format: json, table, yaml.
var FormatFlag = &cli.StringFlag{
	Name:    "format",
	Aliases: []string{"f"},
	Usage:   "Output format: json, table, yaml",
}

// runFlags returns the flags of the run command. Flags without an explicit
// value on the command line fall back to the config file, then to the
// defaults listed here.
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to an unchunk.yaml config file",
		},
		&cli.StringFlag{
			Name:  "variant",
			Usage: "Payload representation: bytes or blob",
			Value: "bytes",
		},
		&cli.StringFlag{
			Name:  "session-id",
			Usage: "Session ID (default: random UUID)",
		},
		&cli.BoolFlag{
			Name:  "fail-on-chunk-error",
			Usage: "End the session on the first malformed chunk instead of skipping it",
		},
		// Source flags
		&cli.StringFlag{
			Name:  "source",
			Usage: "Chunk source: stdin, file, dir or redis",
			Value: "stdin",
		},
		&cli.StringFlag{
			Name:  "source-path",
			Usage: "File or directory to read chunks from (file, dir)",
		},
		&cli.StringFlag{
			Name:  "source-pattern",
			Usage: "Glob selecting chunk files (dir)",
		},
		&cli.StringFlag{
			Name:  "source-url",
			Usage: "Redis URL to subscribe to (redis)",
		},
		&cli.StringFlag{
			Name:  "source-channel",
			Usage: "Redis channel to subscribe to (redis)",
		},
		// GC flags
		&cli.DurationFlag{
			Name:  "gc-interval",
			Usage: "Interval between sweeps of stale partial messages (0 disables)",
			Value: runtime.DefaultGCInterval,
		},
		&cli.DurationFlag{
			Name:  "max-age",
			Usage: "Age after which a partial message is discarded",
			Value: runtime.DefaultMaxAge,
		},
		// Policy flags
		&cli.StringFlag{
			Name:  "policy",
			Usage: "Delivery policy: strict, buffered or noop",
			Value: "strict",
		},
		&cli.IntFlag{
			Name:  "buffer-messages",
			Usage: "Max buffered messages (buffered policy)",
		},
		&cli.Int64Flag{
			Name:  "buffer-bytes",
			Usage: "Max buffered bytes (buffered policy)",
		},
		// Sink flags
		&cli.StringFlag{
			Name:  "sink",
			Usage: "Message sink: ipc, dir or lode",
			Value: "ipc",
		},
		&cli.StringFlag{
			Name:  "sink-path",
			Usage: "Sink location (ipc: file, default stdout; dir: directory; lode: root dir or bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "lode-dataset",
			Usage: "Lode dataset ID",
			Value: "messages",
		},
		&cli.StringFlag{
			Name:  "lode-backend",
			Usage: "Lode storage backend: fs or s3",
			Value: "fs",
		},
		&cli.StringFlag{
			Name:  "lode-s3-region",
			Usage: "AWS region for the S3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "lode-s3-endpoint",
			Usage: "Custom S3 endpoint for S3-compatible providers",
		},
		&cli.BoolFlag{
			Name:  "lode-s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
		// Adapter flags
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Event adapter: webhook or redis (default: none)",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook endpoint or Redis URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis channel for events",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Extra webhook header as Key=Value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-publish timeout",
			Value: 10 * time.Second,
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Publish retry attempts",
			Value: 3,
		},
		&cli.BoolFlag{
			Name:  "adapter-stream",
			Usage: "Append Redis events to a stream (XADD) instead of PUBLISH",
		},
		&cli.Int64Flag{
			Name:  "adapter-stream-max",
			Usage: "Approximate Redis stream length cap (0 = unbounded)",
		},
		&cli.BoolFlag{
			Name:  "notify-each",
			Usage: "Publish an event for every delivered message",
		},
		// Output flags
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write the JSON session report to this path (- for stderr)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Diagnostic log level: debug, info, warn or error",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Diagnostic log encoding: json or console",
			Value: "json",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress the session summary",
		},
		FormatFlag,
	}
}
