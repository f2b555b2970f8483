// Package verdict classifies a finished agent run into the outcome that
// drives the user-visible status and exit code.
package verdict

import (
	"fmt"
)

// Kind identifies a terminal run outcome.
type Kind int

const (
	Success Kind = iota
	TimedOut
	ToolsUnavailable
	NoSourcesFound
	SpawnFailed
	ProcessFailed
)

var kindNames = [...]string{
	Success:          "success",
	TimedOut:         "timed_out",
	ToolsUnavailable: "tools_unavailable",
	NoSourcesFound:   "no_sources_found",
	SpawnFailed:      "spawn_failed",
	ProcessFailed:    "process_failed",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the final, immutable result of a run.
type Outcome struct {
	Kind       Kind
	RunID      string   // empty when no process was started
	ExitCode   int      // the child's exit code, -1 if it never exited normally
	Sources    []string // URLs cited by the agent
	Transcript string   // accumulated agent stdout
	Err        error    // cause for SpawnFailed and ProcessFailed
}

// OK reports whether the run passed validation.
func (o Outcome) OK() bool {
	return o.Kind == Success
}

// ExitStatus maps the outcome to the process exit code: the child's own
// code on success, 1 for every failure.
func (o Outcome) ExitStatus() int {
	if o.Kind == Success {
		return o.ExitCode
	}
	return 1
}

// Spawn returns the outcome for a process that could not be started.
func Spawn(err error) Outcome {
	return Outcome{Kind: SpawnFailed, ExitCode: -1, Err: err}
}
