// Command travelinfo looks up current travel-entry information with a
// web-research agent and checks that the answer cites its sources.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"

	"github.com/deixis/travelinfo"
	"github.com/deixis/travelinfo/internal/config"
	"github.com/deixis/travelinfo/internal/input"
	govmcp "github.com/deixis/travelinfo/internal/mcp"
	"github.com/deixis/travelinfo/internal/runner"
	"github.com/deixis/travelinfo/internal/travel"
	"github.com/deixis/travelinfo/internal/verdict"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("travelinfo: ")

	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "mcp":
			if err := mcpMain(args[1:]); err != nil {
				log.Fatal(err)
			}
			return
		case "version":
			fmt.Println(travelinfo.Version)
			return
		case "help":
			usage(os.Stdout)
			return
		}
	}

	os.Exit(lookupMain(args, os.Stdin, os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: travelinfo [flags] <citizenship> <departure> <destination>
       travelinfo mcp [-http addr] [-timeout d]
       travelinfo version

With fewer than three countries, travelinfo asks for all three interactively.

Flags:
  -v, --verbose     print the prompt sent to the agent and debug logs
      --timeout d   stop the agent after d (e.g. 90s, 5m; default 3m)
  -h, --help        show this help`)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    color.NoColor,
	}))
}

// --- lookup ---

type lookupFlags struct {
	verbose bool
	timeout time.Duration
}

// errUnknownOption is returned for any dash-prefixed token that is not a flag.
var errUnknownOption = errors.New("unknown option")

// lookupOptions are the accepted spellings. The flag package would also
// take -verbose or --v; those are rejected.
var lookupOptions = map[string]bool{
	"-v":        true,
	"--verbose": true,
	"--timeout": true,
	"-h":        true,
	"--help":    true,
}

// parseLookupArgs parses flags interspersed with positional arguments.
func parseLookupArgs(args []string) (lookupFlags, []string, error) {
	var f lookupFlags
	fs := flag.NewFlagSet("travelinfo", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&f.verbose, "verbose", false, "print the prompt sent to the agent")
	fs.BoolVar(&f.verbose, "v", false, "shorthand for -verbose")
	fs.DurationVar(&f.timeout, "timeout", 0, "stop the agent after this long")

	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, _, _ := strings.Cut(arg, "=")
		if !lookupOptions[name] {
			return f, nil, fmt.Errorf("%w: %s", errUnknownOption, arg)
		}
	}

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return f, nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}

	if f.timeout < 0 {
		return f, nil, fmt.Errorf("timeout must be positive, got %v", f.timeout)
	}
	return f, positional, nil
}

// lookupMain runs one lookup and returns the process exit code.
func lookupMain(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	fmt.Fprint(stdout, "\n🌍 Travel Country Info Tool\n\n")

	flags, positional, err := parseLookupArgs(args)
	if errors.Is(err, flag.ErrHelp) {
		usage(stdout)
		return 0
	}
	if err != nil {
		failf(stderr, "❌ %s", capitalize(err.Error()))
		usage(stderr)
		return 1
	}

	workspace, err := os.Getwd()
	if err != nil {
		failf(stderr, "❌ Determining working directory: %v", err)
		return 1
	}
	loaded, err := config.Load(workspace)
	if err != nil {
		failf(stderr, "❌ Loading config: %v", err)
		return 1
	}
	cfg := loaded.Config

	logger := newLogger(stderr, flags.verbose)
	slog.SetDefault(logger)
	if loaded.Path != "" {
		logger.Debug("config loaded", "path", loaded.Path)
	}
	opts := cfg.Options(flags.verbose, flags.timeout)

	q, err := input.NewResolver(stdin, stdout).Resolve(positional)
	if err != nil {
		failf(stderr, "❌ %v.", err)
		return 1
	}

	engine := travel.NewEngine(cfg, &runner.Runner{
		Stdin:     stdin,
		Stdout:    stdout,
		Stderr:    stderr,
		MaxOutput: cfg.MaxOutputBytes(),
		KillGrace: cfg.KillGrace(),
		Logger:    logger,
	}, logger)

	req, err := engine.NewRequest(q, opts)
	if err != nil {
		failf(stderr, "❌ %v.", err)
		return 1
	}

	printBanner(stdout, q)
	if opts.Verbose {
		printPrompt(stdout, req.Prompt)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := engine.Run(ctx, req)
	present(stdout, stderr, out, cfg, req.Timeout)
	return out.ExitStatus()
}

// --- presentation ---

const ruleWidth = 60

var (
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
)

func failf(w io.Writer, format string, args ...any) {
	failColor.Fprintf(w, format+"\n", args...)
}

func printBanner(w io.Writer, q travel.Query) {
	rule := strings.Repeat("─", ruleWidth)
	fmt.Fprintln(w, rule)
	warnColor.Fprintln(w, "⚠️  This tool provides AI-generated info for reference only.")
	fmt.Fprintln(w, "Always verify with official government sources before traveling.")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "\n🔍 Searching for travel info: %s citizen, %s → %s...\n\n", q.Citizenship, q.Departure, q.Destination)
}

func printPrompt(w io.Writer, prompt string) {
	rule := strings.Repeat("─", 50)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "PROMPT SENT TO AGENT:")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, prompt)
	fmt.Fprintln(w, rule+"\n")
}

// present prints the closing status for out. Whatever the agent printed
// has already been relayed live.
func present(stdout, stderr io.Writer, out verdict.Outcome, cfg *config.Config, timeout time.Duration) {
	switch out.Kind {
	case verdict.Success:
		printDisclaimer(stdout)
	case verdict.TimedOut:
		failf(stderr, "\n\n⏱️  Search timed out after %s. Try again or check your connection.", formatDuration(timeout))
	case verdict.ToolsUnavailable:
		failf(stderr, "\n❌ Web search unavailable. Enable tool access and retry.\n")
	case verdict.NoSourcesFound:
		failf(stderr, "\n❌ No web sources detected. Web search is required for this tool.")
		failf(stderr, "   Ensure the agent's tool access is enabled, then retry.\n")
	case verdict.SpawnFailed:
		var se *runner.StartError
		if errors.As(out.Err, &se) && se.NotFound() {
			failf(stderr, "\n❌ Agent CLI %q not found. Please install it first,", se.Binary)
			failf(stderr, "   or point %s (or agent.binary in %s) at it.\n", config.EnvBinary, config.FileName)
		} else {
			failf(stderr, "\n❌ Failed to start %s: %v\n", cfg.Binary(), out.Err)
		}
	case verdict.ProcessFailed:
		failf(stderr, "\n❌ Agent run failed: %v\n", out.Err)
	}
}

func printDisclaimer(w io.Writer) {
	rule := strings.Repeat("─", ruleWidth)
	fmt.Fprintln(w, "\n"+rule)
	warnColor.Fprintln(w, "⚠️  DISCLAIMER: For informational purposes only. Not legal or")
	warnColor.Fprintln(w, "official travel advice. Information may be outdated or incorrect.")
	fmt.Fprintln(w, "Always verify with official government sources before traveling:")
	fmt.Fprintln(w, "  • US: travel.state.gov")
	fmt.Fprintln(w, "  • UK: gov.uk/foreign-travel-advice")
	fmt.Fprintln(w, "  • EU: europa.eu/youreurope/citizens/travel")
	fmt.Fprintln(w, "The authors accept no liability for decisions based on this info.")
	fmt.Fprintln(w, rule+"\n")
}

// formatDuration renders whole minutes as words and anything else as a
// Go duration.
func formatDuration(d time.Duration) string {
	if d <= 0 || d%time.Minute != 0 {
		return d.String()
	}
	if m := int(d / time.Minute); m != 1 {
		return fmt.Sprintf("%d minutes", m)
	}
	return "1 minute"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	timeoutFlag := fs.Duration("timeout", 0, "override configured agent timeout (e.g. 5m)")
	verboseFlag := fs.Bool("v", false, "debug logging")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determining workspace: %w", err)
	}
	loaded, err := config.Load(workspace)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	logger := newLogger(os.Stderr, *verboseFlag)
	slog.SetDefault(logger)

	// Stdout carries the MCP transport, so agent stdout is only accumulated.
	r := &runner.Runner{
		Stderr:    os.Stderr,
		MaxOutput: cfg.MaxOutputBytes(),
		KillGrace: cfg.KillGrace(),
		Logger:    logger,
	}
	engine := travel.NewEngine(cfg, r, logger)
	server := govmcp.NewServer(engine, cfg.Options(*verboseFlag, *timeoutFlag))

	if *httpAddr != "" {
		return serveHTTP(ctx, server, *httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
