package travel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deixis/travelinfo/internal/config"
	"github.com/deixis/travelinfo/internal/prompt"
	"github.com/deixis/travelinfo/internal/runner"
	"github.com/deixis/travelinfo/internal/verdict"
)

// CommandRunner executes the agent process.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, timeout time.Duration) (*runner.Result, error)
}

// Engine holds shared dependencies for building and running requests.
type Engine struct {
	Config    *config.Config
	Runner    CommandRunner
	Validator *verdict.Validator
	Logger    *slog.Logger
	Now       func() time.Time // defaults to time.Now
}

// NewEngine wires an Engine whose validator follows cfg.
func NewEngine(cfg *config.Config, r CommandRunner, logger *slog.Logger) *Engine {
	return &Engine{
		Config: cfg,
		Runner: r,
		Validator: &verdict.Validator{
			Sentinel: verdict.ToolsUnavailableSentinel,
			Match:    cfg.SentinelMatch(),
		},
		Logger: logger,
	}
}

// NewRequest validates q and renders the prompt for the current date.
func (e *Engine) NewRequest(q Query, opts config.Options) (Request, error) {
	q, err := q.Normalize()
	if err != nil {
		return Request{}, err
	}

	text, err := prompt.Build(prompt.Params{
		Citizenship: q.Citizenship,
		Departure:   q.Departure,
		Destination: q.Destination,
		Date:        e.now(),
	})
	if err != nil {
		return Request{}, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.Config.Timeout()
	}
	tools := opts.AllowedTools
	if tools == nil {
		tools = e.Config.AllowedTools()
	}

	return Request{
		Query:             q,
		Prompt:            text,
		SystemConstraints: prompt.Constraints(e.sentinel()),
		AllowedTools:      tools.Clone(),
		Timeout:           timeout,
	}, nil
}

// Run launches the agent for req and classifies the result. Every failure
// is reported through the returned Outcome; nothing is retried.
func (e *Engine) Run(ctx context.Context, req Request) verdict.Outcome {
	log := e.logger()
	argv := req.Argv(e.Config.Binary(), e.Config.Model())

	log.Debug("launching agent",
		"binary", argv[0],
		"model", e.Config.Model(),
		"tools", req.Tools(),
		"timeout", req.Timeout,
	)

	res, err := e.Runner.Run(ctx, argv, req.Timeout)
	if err != nil {
		var startErr *runner.StartError
		if errors.As(err, &startErr) {
			log.Debug("agent failed to start", "err", err, "not_found", startErr.NotFound())
			return verdict.Spawn(startErr)
		}
		return verdict.Outcome{Kind: verdict.ProcessFailed, ExitCode: -1, Err: fmt.Errorf("running agent: %w", err)}
	}
	if res.Truncated {
		log.Warn("agent output exceeded the validation buffer; only the first part was checked",
			"run_id", res.RunID, "limit_bytes", e.Config.MaxOutputBytes())
	}

	out := e.validator().Validate(res)
	log.Debug("run classified",
		"run_id", out.RunID,
		"outcome", out.Kind,
		"exit_code", out.ExitCode,
		"sources", len(out.Sources),
	)
	return out
}

// Lookup builds a request for q and runs it.
func (e *Engine) Lookup(ctx context.Context, q Query, opts config.Options) (verdict.Outcome, error) {
	req, err := e.NewRequest(q, opts)
	if err != nil {
		return verdict.Outcome{}, err
	}
	return e.Run(ctx, req), nil
}

func (e *Engine) validator() *verdict.Validator {
	if e.Validator != nil {
		return e.Validator
	}
	return &verdict.Validator{}
}

func (e *Engine) sentinel() string {
	if e.Validator != nil && e.Validator.Sentinel != "" {
		return e.Validator.Sentinel
	}
	return verdict.ToolsUnavailableSentinel
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
