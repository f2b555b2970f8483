// Package input resolves the three query fields from positional arguments
// or, when fewer than three are given, from interactive prompts.
package input

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/deixis/travelinfo/internal/travel"
)

// Questions asked when the fields are not given on the command line.
const (
	AskCitizenship = "Which country are you from (citizenship)? "
	AskDeparture   = "Which country are you traveling from? "
	AskDestination = "Which country are you traveling to? "
)

// Resolver reads missing fields from In and writes prompts and echoes to Out.
// In is read one byte at a time and never past the last answer, so the
// rest of it is left for the agent, which inherits the same stdin.
type Resolver struct {
	In  io.Reader
	Out io.Writer
}

// NewResolver returns a Resolver reading from in and writing to out.
func NewResolver(in io.Reader, out io.Writer) *Resolver {
	return &Resolver{In: in, Out: out}
}

// Resolve returns the query from args when at least three are given
// (extra ones are ignored), otherwise it prompts for all three fields.
// Each field is trimmed; a blank field fails with travel.ErrEmptyField
// before any further prompt is shown.
func (r *Resolver) Resolve(args []string) (travel.Query, error) {
	if len(args) >= 3 {
		q := travel.Query{Citizenship: args[0], Departure: args[1], Destination: args[2]}
		fmt.Fprintf(r.Out, "%s: %s\n", travel.LabelCitizenship, q.Citizenship)
		fmt.Fprintf(r.Out, "%s: %s\n", travel.LabelDeparture, q.Departure)
		fmt.Fprintf(r.Out, "%s: %s\n", travel.LabelDestination, q.Destination)
		return q.Normalize()
	}

	var q travel.Query
	steps := []struct {
		label    string
		question string
		dst      *string
	}{
		{travel.LabelCitizenship, AskCitizenship, &q.Citizenship},
		{travel.LabelDeparture, AskDeparture, &q.Departure},
		{travel.LabelDestination, AskDestination, &q.Destination},
	}
	for _, s := range steps {
		answer, err := r.ask(s.question)
		if err != nil {
			return travel.Query{}, err
		}
		v, err := travel.NormalizeField(s.label, answer)
		if err != nil {
			return travel.Query{}, err
		}
		*s.dst = v
	}
	return q, nil
}

// ask prints question and reads one line. End of input yields whatever
// was typed so far.
func (r *Resolver) ask(question string) (string, error) {
	fmt.Fprint(r.Out, question)
	line, err := r.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	if errors.Is(err, io.EOF) {
		// Keep the next output off the prompt line.
		fmt.Fprintln(r.Out)
	}
	return line, nil
}

// readLine reads up to and including the next newline.
func (r *Resolver) readLine() (string, error) {
	var line bytes.Buffer
	b := make([]byte, 1)
	for {
		n, err := r.In.Read(b)
		if n == 1 {
			line.WriteByte(b[0])
			if b[0] == '\n' {
				return line.String(), nil
			}
		}
		if err != nil {
			return line.String(), err
		}
	}
}
