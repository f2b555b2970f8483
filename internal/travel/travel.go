// Package travel turns a travel query into a validated agent run. It is
// consumed by both the CLI and the MCP server.
package travel

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrEmptyField is returned when a required query field is blank.
var ErrEmptyField = errors.New("cannot be empty")

// Field labels, as shown to the user.
const (
	LabelCitizenship = "Citizenship"
	LabelDeparture   = "Departing from"
	LabelDestination = "Destination"
)

// Query is what the user wants to know about.
type Query struct {
	Citizenship string
	Departure   string
	Destination string
}

// Normalize trims every field and rejects blank ones.
func (q Query) Normalize() (Query, error) {
	fields := []struct {
		label string
		value *string
	}{
		{LabelCitizenship, &q.Citizenship},
		{LabelDeparture, &q.Departure},
		{LabelDestination, &q.Destination},
	}
	for _, f := range fields {
		v, err := NormalizeField(f.label, *f.value)
		if err != nil {
			return Query{}, err
		}
		*f.value = v
	}
	return q, nil
}

// NormalizeField trims value and rejects it if nothing is left.
func NormalizeField(label, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("%s %w", label, ErrEmptyField)
	}
	return v, nil
}

// Request is everything needed to launch one agent run. It is built once
// per invocation and not modified afterwards.
type Request struct {
	Query
	Prompt            string
	SystemConstraints string
	AllowedTools      mapset.Set[string]
	Timeout           time.Duration
}

// Tools returns the allow-list in a stable order.
func (r Request) Tools() []string {
	if r.AllowedTools == nil {
		return nil
	}
	tools := r.AllowedTools.ToSlice()
	slices.Sort(tools)
	return tools
}

// Argv renders the agent command line: non-interactive mode, the model,
// the tool allow-list, no permission prompts, the appended system
// constraints and finally the prompt.
func (r Request) Argv(binary, model string) []string {
	return []string{
		binary,
		"-p",
		"--model", model,
		"--allowed-tools", strings.Join(r.Tools(), ","),
		"--dangerously-skip-permissions",
		"--append-system-prompt", r.SystemConstraints,
		r.Prompt,
	}
}
