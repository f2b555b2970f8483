package verdict

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/deixis/travelinfo/internal/runner"
)

// ToolsUnavailableSentinel is the literal the agent is told to print when
// it has no web tools.
const ToolsUnavailableSentinel = "__WEB_TOOLS_UNAVAILABLE_ERROR__"

// SourceMarker must appear in any answer that cites its sources.
const SourceMarker = "Source:"

// Match rules for the sentinel check.
const (
	MatchSubstring = "substring" // sentinel anywhere in the output
	MatchLine      = "line"      // sentinel alone on a line, ignoring surrounding space
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Validator decides whether the output of a finished run is acceptable.
// The zero value uses the default sentinel and substring matching.
type Validator struct {
	Sentinel string
	Match    string
}

// Validate classifies a run that has reached a terminal state. The first
// matching rule wins: termination by a controller, the tools-unavailable
// sentinel, missing sources, then success.
func (v *Validator) Validate(res *runner.Result) Outcome {
	out := Outcome{
		RunID:      res.RunID,
		ExitCode:   res.ExitCode,
		Transcript: string(res.Output),
	}

	switch {
	case res.Stopped == runner.StopDeadline:
		out.Kind = TimedOut
		return out
	case res.Stopped == runner.StopCanceled:
		out.Kind = ProcessFailed
		out.Err = errors.New("run cancelled")
		return out
	case res.Signaled():
		out.Kind = ProcessFailed
		out.Err = fmt.Errorf("agent terminated by signal %v", res.Signal)
		return out
	}

	text := out.Transcript
	if v.ToolsUnavailable(text) {
		out.Kind = ToolsUnavailable
		return out
	}

	out.Sources = ExtractURLs(text)
	if len(out.Sources) == 0 || !strings.Contains(text, SourceMarker) {
		out.Kind = NoSourcesFound
		return out
	}

	out.Kind = Success
	return out
}

// ToolsUnavailable reports whether the agent said it had no web tools.
func (v *Validator) ToolsUnavailable(text string) bool {
	sentinel := v.Sentinel
	if sentinel == "" {
		sentinel = ToolsUnavailableSentinel
	}
	if v.Match != MatchLine {
		return strings.Contains(text, sentinel)
	}
	for line := range strings.Lines(text) {
		if strings.TrimSpace(line) == sentinel {
			return true
		}
	}
	return false
}

// ExtractURLs returns every http(s) URL in text, in order, with trailing
// ")", ",", "." and ";" removed. Matches that are nothing but a scheme
// after trimming are dropped.
func ExtractURLs(text string) []string {
	var urls []string
	for _, m := range urlPattern.FindAllString(text, -1) {
		u := strings.TrimRight(m, "),.;")
		if strings.HasSuffix(u, "://") {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}
