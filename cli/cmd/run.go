package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/klaki892/chunked-dc/adapter"
	redisadapter "github.com/klaki892/chunked-dc/adapter/redis"
	"github.com/klaki892/chunked-dc/adapter/webhook"
	"github.com/klaki892/chunked-dc/cli/config"
	"github.com/klaki892/chunked-dc/cli/render"
	"github.com/klaki892/chunked-dc/iox"
	"github.com/klaki892/chunked-dc/lode"
	"github.com/klaki892/chunked-dc/log"
	"github.com/klaki892/chunked-dc/metrics"
	"github.com/klaki892/chunked-dc/policy"
	"github.com/klaki892/chunked-dc/runtime"
	"github.com/klaki892/chunked-dc/sink"
	"github.com/klaki892/chunked-dc/transport"
	dirsource "github.com/klaki892/chunked-dc/transport/dir"
	redissource "github.com/klaki892/chunked-dc/transport/redis"
	"github.com/klaki892/chunked-dc/transport/stream"
	"github.com/klaki892/chunked-dc/types"
)

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Reassemble chunked messages from a source until it drains",
		Flags:  runFlags(),
		Action: runAction,
	}
}

// runChoice is the fully resolved run configuration.
type runChoice struct {
	variant          string
	sessionID        string
	failOnChunkError bool
	gcInterval       time.Duration
	maxAge           time.Duration
	report           string
	quiet            bool
	logOpts          log.Options

	source  sourceChoice
	policy  policyChoice
	sink    sinkChoice
	adapter *adapterChoice
}

type sourceChoice struct {
	kind    string
	path    string
	pattern string
	url     string
	channel string
}

type policyChoice struct {
	name        string
	maxMessages int
	maxBytes    int64
}

type sinkChoice struct {
	kind        string
	path        string
	dataset     string
	backend     string
	region      string
	endpoint    string
	s3PathStyle bool
}

type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	headers     map[string]string
	timeout     time.Duration
	retries     int
	notifyEach  bool
	stream      bool
	streamMax   int64
}

func runAction(c *cli.Context) error {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), runtime.ExitCodeConfig)
		}
		cfg = loaded
	}

	choice, err := resolveRunChoice(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeConfig)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return executeRun(ctx, choice, os.Stdin, os.Stdout, os.Stderr, c)
}

// resolveRunChoice merges flags over the config file and validates the
// result. Errors name the flag to fix.
func resolveRunChoice(c *cli.Context, cfg *config.Config) (*runChoice, error) {
	choice := &runChoice{
		variant:          resolveString(c, "variant", configVal(cfg, func(c *config.Config) string { return c.Variant })),
		sessionID:        resolveString(c, "session-id", configVal(cfg, func(c *config.Config) string { return c.SessionID })),
		failOnChunkError: resolveBool(c, "fail-on-chunk-error", configVal(cfg, func(c *config.Config) bool { return c.FailOnChunkError })),
		gcInterval:       resolveDuration(c, "gc-interval", configVal(cfg, func(c *config.Config) time.Duration { return c.GC.Interval.Duration })),
		maxAge:           resolveDuration(c, "max-age", configVal(cfg, func(c *config.Config) time.Duration { return c.GC.MaxAge.Duration })),
		report:           resolveString(c, "report", configVal(cfg, func(c *config.Config) string { return c.Report })),
		quiet:            c.Bool("quiet"),
		source: sourceChoice{
			kind:    resolveString(c, "source", configVal(cfg, func(c *config.Config) string { return c.Source.Type })),
			path:    resolveString(c, "source-path", configVal(cfg, func(c *config.Config) string { return c.Source.Path })),
			pattern: resolveString(c, "source-pattern", configVal(cfg, func(c *config.Config) string { return c.Source.Pattern })),
			url:     resolveString(c, "source-url", configVal(cfg, func(c *config.Config) string { return c.Source.URL })),
			channel: resolveString(c, "source-channel", configVal(cfg, func(c *config.Config) string { return c.Source.Channel })),
		},
		policy: policyChoice{
			name:        resolveString(c, "policy", configVal(cfg, func(c *config.Config) string { return c.Policy.Name })),
			maxMessages: resolveInt(c, "buffer-messages", configVal(cfg, func(c *config.Config) int { return c.Policy.BufferMessages })),
			maxBytes:    resolveInt64(c, "buffer-bytes", configVal(cfg, func(c *config.Config) int64 { return c.Policy.BufferBytes })),
		},
		sink: sinkChoice{
			kind:        resolveString(c, "sink", configVal(cfg, func(c *config.Config) string { return c.Sink.Type })),
			path:        resolveString(c, "sink-path", configVal(cfg, func(c *config.Config) string { return c.Sink.Path })),
			dataset:     resolveString(c, "lode-dataset", configVal(cfg, func(c *config.Config) string { return c.Sink.Dataset })),
			backend:     resolveString(c, "lode-backend", configVal(cfg, func(c *config.Config) string { return c.Sink.Backend })),
			region:      resolveString(c, "lode-s3-region", configVal(cfg, func(c *config.Config) string { return c.Sink.Region })),
			endpoint:    resolveString(c, "lode-s3-endpoint", configVal(cfg, func(c *config.Config) string { return c.Sink.Endpoint })),
			s3PathStyle: resolveBool(c, "lode-s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Sink.S3PathStyle })),
		},
	}

	adapterType := resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type }))
	if adapterType != "" {
		ac, err := parseAdapterConfigWithPrecedence(c, cfg, adapterType)
		if err != nil {
			return nil, err
		}
		choice.adapter = ac
	}

	logOpts, err := log.ParseOptions(
		resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.Log.Level })),
		resolveString(c, "log-format", configVal(cfg, func(c *config.Config) string { return c.Log.Format })),
	)
	if err != nil {
		return nil, err
	}
	choice.logOpts = logOpts

	if _, err := render.ParseFormat(c.String("format")); err != nil {
		return nil, err
	}
	if err := validateRunChoice(choice); err != nil {
		return nil, err
	}
	return choice, nil
}

func validateRunChoice(choice *runChoice) error {
	switch choice.variant {
	case "bytes", "blob":
	default:
		return fmt.Errorf("invalid --variant %q (must be bytes or blob)", choice.variant)
	}
	if choice.gcInterval < 0 || choice.maxAge <= 0 {
		return errors.New("--gc-interval must be >= 0 and --max-age must be > 0")
	}

	switch choice.source.kind {
	case "stdin":
	case "file", "dir":
		if choice.source.path == "" {
			return fmt.Errorf("--source-path is required for --source %s", choice.source.kind)
		}
	case "redis":
		if choice.source.url == "" {
			return errors.New("--source-url is required for --source redis")
		}
	default:
		return fmt.Errorf("invalid --source %q (must be stdin, file, dir or redis)", choice.source.kind)
	}

	if err := validatePolicyConfig(choice.policy); err != nil {
		return err
	}

	switch choice.sink.kind {
	case "ipc":
	case "dir":
		if choice.sink.path == "" {
			return errors.New("--sink-path is required for --sink dir")
		}
	case "lode":
		if choice.sink.path == "" {
			return errors.New("--sink-path is required for --sink lode (fs: directory, s3: bucket/prefix)")
		}
		switch choice.sink.backend {
		case "fs", "s3":
		default:
			return fmt.Errorf("invalid --lode-backend %q (must be fs or s3)", choice.sink.backend)
		}
	default:
		return fmt.Errorf("invalid --sink %q (must be ipc, dir or lode)", choice.sink.kind)
	}
	return nil
}

func validatePolicyConfig(choice policyChoice) error {
	switch choice.name {
	case "strict", "noop":
		if choice.maxMessages > 0 || choice.maxBytes > 0 {
			fmt.Fprintf(os.Stderr, "Warning: buffer flags ignored for %s policy\n", choice.name)
		}
		return nil
	case "buffered":
		if choice.maxMessages < 0 || choice.maxBytes < 0 {
			return errors.New("buffer limits must not be negative")
		}
		if choice.maxMessages == 0 && choice.maxBytes == 0 {
			return errors.New("buffered policy requires buffer limits: --buffer-messages > 0 or --buffer-bytes > 0")
		}
		return nil
	default:
		return fmt.Errorf("invalid --policy %q (must be strict, buffered or noop)", choice.name)
	}
}

// parseAdapterConfigWithPrecedence resolves adapter settings. Headers from
// the config file are merged with --adapter-header values; flags win.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *config.Config, adapterType string) (*adapterChoice, error) {
	ac := &adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
		channel:     resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
		timeout:     resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })),
		retries:     c.Int("adapter-retries"),
		notifyEach:  resolveBool(c, "notify-each", configVal(cfg, func(c *config.Config) bool { return c.Adapter.NotifyEach })),
		stream:      resolveBool(c, "adapter-stream", configVal(cfg, func(c *config.Config) bool { return c.Adapter.Stream })),
		streamMax:   resolveInt64(c, "adapter-stream-max", configVal(cfg, func(c *config.Config) int64 { return c.Adapter.StreamMax })),
		headers:     map[string]string{},
	}
	if !c.IsSet("adapter-retries") {
		if r := configVal(cfg, func(c *config.Config) *int { return c.Adapter.Retries }); r != nil {
			ac.retries = *r
		}
	}

	switch adapterType {
	case "webhook", "redis":
	default:
		return nil, fmt.Errorf("invalid --adapter %q (must be webhook or redis)", adapterType)
	}
	if ac.url == "" {
		return nil, fmt.Errorf("--adapter-url is required for --adapter %s", adapterType)
	}
	if ac.retries < 0 {
		return nil, errors.New("--adapter-retries must be >= 0")
	}
	if ac.streamMax < 0 {
		return nil, errors.New("--adapter-stream-max must be >= 0")
	}
	if ac.stream && adapterType != "redis" {
		return nil, errors.New("--adapter-stream requires --adapter redis")
	}

	for k, v := range configVal(cfg, func(c *config.Config) map[string]string { return c.Adapter.Headers }) {
		ac.headers[k] = v
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --adapter-header %q (expected Key=Value)", h)
		}
		ac.headers[k] = v
	}
	return ac, nil
}

// executeRun builds the pipeline, runs one session and reports. The
// returned error always carries the process exit code.
func executeRun(ctx context.Context, choice *runChoice, stdin io.Reader, stdout, stderr io.Writer, c *cli.Context) error {
	startTime := time.Now()
	sessionID := choice.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	meta := &types.SessionMeta{
		SessionID: sessionID,
		Source:    sourceLabel(choice.source),
		Variant:   choice.variant,
		StartedAt: startTime,
	}
	logger := log.New(meta, stderr, choice.logOpts)
	defer func() { _ = logger.Sync() }()

	collector := metrics.NewCollector(choice.variant, choice.policy.name, choice.sink.kind, sessionID)

	src, err := buildSource(ctx, choice.source, stdin)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open source: %v", err), runtime.ExitCodeStream)
	}

	var summary *lode.Sink
	var pol policy.Policy
	if choice.policy.name == "noop" {
		pol = policy.NewNoopPolicy()
	} else {
		s, lodeSink, err := buildSink(ctx, choice.sink, meta, stdout)
		if err != nil {
			_ = src.Close()
			return cli.Exit(fmt.Sprintf("failed to open sink: %v", err), runtime.ExitCodeConfig)
		}
		summary = lodeSink
		pol, err = buildPolicy(choice.policy, policy.NewInstrumentedSink(s, collector))
		if err != nil {
			_ = src.Close()
			_ = s.Close()
			return cli.Exit(fmt.Sprintf("failed to create policy: %v", err), runtime.ExitCodeConfig)
		}
	}

	var adp adapter.Adapter
	notifyEach := false
	if choice.adapter != nil {
		adp, err = buildAdapter(choice.adapter)
		if err != nil {
			_ = src.Close()
			_ = pol.Close()
			return cli.Exit(fmt.Sprintf("failed to create adapter: %v", err), runtime.ExitCodeConfig)
		}
		defer iox.DiscardClose(adp)
		notifyEach = choice.adapter.notifyEach
	}

	session, err := runtime.NewSession(&runtime.SessionConfig{
		Meta:             meta,
		Source:           src,
		Policy:           pol,
		Adapter:          adp,
		NotifyEach:       notifyEach,
		GCInterval:       choice.gcInterval,
		MaxAge:           choice.maxAge,
		FailOnChunkError: choice.failOnChunkError,
		Collector:        collector,
		Logger:           logger,
	})
	if err != nil {
		_ = src.Close()
		_ = pol.Close()
		return cli.Exit(fmt.Sprintf("failed to create session: %v", err), runtime.ExitCodeConfig)
	}

	result, _ := session.Run(ctx)

	closeCtx := context.WithoutCancel(ctx)
	if summary != nil {
		if err := summary.WriteSummary(closeCtx, collector.Snapshot(), time.Now()); err != nil {
			logger.Warn("failed to write session summary", map[string]any{
				"error":     err.Error(),
				"transient": lode.IsTransient(err),
			})
		}
	}
	report := runtime.BuildReport(result, collector.Snapshot(), choice.policy.name)
	if choice.report != "" {
		if err := runtime.WriteReport(report, choice.report); err != nil {
			logger.Warn("failed to write report", map[string]any{"path": choice.report, "error": err.Error()})
		}
	}
	if !choice.quiet {
		if err := printRunResult(c, stderr, report); err != nil {
			logger.Warn("failed to render summary", map[string]any{"error": err.Error()})
		}
	}

	return cli.Exit("", report.ExitCode)
}

func sourceLabel(s sourceChoice) string {
	switch s.kind {
	case "file", "dir":
		return s.kind + ":" + s.path
	case "redis":
		channel := s.channel
		if channel == "" {
			channel = redissource.DefaultChannel
		}
		return "redis:" + channel
	default:
		return s.kind
	}
}

func buildSource(ctx context.Context, s sourceChoice, stdin io.Reader) (transport.Source, error) {
	switch s.kind {
	case "stdin":
		return stream.New("stdin", io.NopCloser(stdin)), nil
	case "file":
		f, err := os.Open(s.path)
		if err != nil {
			return nil, err
		}
		return stream.New("file", f), nil
	case "dir":
		return dirsource.Open(s.path, s.pattern)
	case "redis":
		return redissource.New(ctx, redissource.Config{URL: s.url, Channel: s.channel})
	default:
		return nil, fmt.Errorf("unknown source: %s", s.kind)
	}
}

// buildSink opens the configured sink. For lode it also returns the
// concrete sink so the session summary can be written at the end.
func buildSink(ctx context.Context, s sinkChoice, meta *types.SessionMeta, stdout io.Writer) (policy.Sink, *lode.Sink, error) {
	switch s.kind {
	case "ipc":
		if s.path == "" || s.path == "-" {
			return sink.NewStreamSink(noCloseWriter{stdout}, meta.SessionID), nil, nil
		}
		f, err := os.Create(s.path)
		if err != nil {
			return nil, nil, err
		}
		return sink.NewStreamSink(f, meta.SessionID), nil, nil
	case "dir":
		d, err := sink.NewDirSink(s.path)
		if err != nil {
			return nil, nil, err
		}
		return d, nil, nil
	case "lode":
		cfg := lode.Config{
			Dataset:   s.dataset,
			Source:    meta.Source,
			Day:       lode.DeriveDay(meta.StartedAt),
			SessionID: meta.SessionID,
		}
		var (
			ls  *lode.Sink
			err error
		)
		switch s.backend {
		case "fs", "":
			ls, err = lode.NewSink(cfg, s.path)
		case "s3":
			bucket, prefix := lode.ParseS3Path(s.path)
			ls, err = lode.NewS3Sink(ctx, cfg, lode.S3Config{
				Bucket:       bucket,
				Prefix:       prefix,
				Region:       s.region,
				Endpoint:     s.endpoint,
				UsePathStyle: s.s3PathStyle,
			})
		default:
			err = fmt.Errorf("unknown lode-backend: %s (must be fs or s3)", s.backend)
		}
		if err != nil {
			return nil, nil, err
		}
		return ls, ls, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink: %s", s.kind)
	}
}

func buildPolicy(choice policyChoice, s policy.Sink) (policy.Policy, error) {
	switch choice.name {
	case "strict":
		return policy.NewStrictPolicy(s), nil
	case "buffered":
		return policy.NewBufferedPolicy(s, policy.BufferedConfig{
			MaxBufferMessages: choice.maxMessages,
			MaxBufferBytes:    choice.maxBytes,
		})
	default:
		return nil, fmt.Errorf("unknown policy: %s", choice.name)
	}
}

func buildAdapter(ac *adapterChoice) (adapter.Adapter, error) {
	switch ac.adapterType {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	case "redis":
		return redisadapter.New(redisadapter.Config{
			URL:       ac.url,
			Channel:   ac.channel,
			Stream:    ac.stream,
			StreamMax: ac.streamMax,
			Timeout:   ac.timeout,
			Retries:   ac.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter: %s", ac.adapterType)
	}
}

func printRunResult(c *cli.Context, out io.Writer, report *runtime.Report) error {
	r, err := render.NewRenderer(c, out)
	if err != nil {
		return err
	}
	return r.Render(report)
}

// noCloseWriter hides Close so the stream sink never closes stdout.
type noCloseWriter struct {
	io.Writer
}
