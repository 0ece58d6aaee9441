// Package command matches final transcriptions against configured triggers
// and performs the bound Type or Exec action.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/metrics"
)

const argsPlaceholder = "{args}"

var (
	// ErrEmptyCommand is returned when an Exec template expands to nothing.
	ErrEmptyCommand = errors.New("command: empty command")
	// ErrNoKeyboard is returned for a Type action when no keyboard is available.
	ErrNoKeyboard = errors.New("command: keyboard output unavailable")
)

// Outcome describes what Dispatch did with a transcription.
type Outcome int

const (
	NoMatch Outcome = iota
	Typed
	Executed
)

func (o Outcome) String() string {
	switch o {
	case Typed:
		return "typed"
	case Executed:
		return "exec"
	default:
		return "no_match"
	}
}

// Keyboard receives the text of Type actions.
type Keyboard interface {
	TypeText(text string)
}

// Launcher starts a program without waiting for it. The returned wait
// function blocks until the program exits.
type Launcher func(name string, args ...string) (wait func() error, err error)

// ExecLauncher starts programs with os/exec.
func ExecLauncher(name string, args ...string) (func() error, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}

// Match is a successful trigger match with its template expanded.
type Match struct {
	Trigger string
	Kind    config.ActionKind
	Args    string
	Text    string
}

type rule struct {
	trigger string
	re      *regexp.Regexp
	action  config.CommandAction
}

type Dispatcher struct {
	rules    []rule
	launcher Launcher
	metrics  *metrics.Pipeline
	tracer   trace.Tracer
	log      *slog.Logger
}

// Pattern returns the regular expression a trigger is compiled to. The
// trailing text is always the last capture group, after any groups the
// trigger declares itself.
func Pattern(trigger string) string {
	return `(?i)^\s*(?:` + trigger + `)\s*(.*)$`
}

// New compiles the triggers in order. Triggers that are not valid regular
// expressions are skipped with a warning.
func New(commands config.Commands, launcher Launcher, m *metrics.Pipeline, log *slog.Logger) *Dispatcher {
	if launcher == nil {
		launcher = ExecLauncher
	}
	d := &Dispatcher{
		launcher: launcher,
		metrics:  m,
		tracer:   otel.Tracer("github.com/loqalabs/loqa-dictation/command"),
		log:      log.With(slog.String("component", "command-dispatcher")),
	}
	for _, cmd := range commands {
		re, err := regexp.Compile(Pattern(cmd.Trigger))
		if err != nil {
			d.log.Warn("invalid trigger pattern, skipping", slog.String("trigger", cmd.Trigger), slog.String("error", err.Error()))
			continue
		}
		d.rules = append(d.rules, rule{trigger: cmd.Trigger, re: re, action: cmd.Action})
	}
	return d
}

// Len returns the number of usable triggers.
func (d *Dispatcher) Len() int { return len(d.rules) }

// Match returns the first trigger matching text, in configuration order.
func (d *Dispatcher) Match(text string) (Match, bool) {
	for _, r := range d.rules {
		groups := r.re.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		args := strings.TrimSpace(groups[r.re.NumSubexp()])
		return Match{
			Trigger: r.trigger,
			Kind:    r.action.Kind,
			Args:    args,
			Text:    strings.ReplaceAll(r.action.Template, argsPlaceholder, args),
		}, true
	}
	return Match{}, false
}

// Dispatch runs the action bound to the first matching trigger. It returns
// NoMatch when the caller should fall back to typing the text literally.
// Exec actions are started asynchronously and their exit status is only
// logged.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, kb Keyboard) (Outcome, error) {
	ctx, span := d.tracer.Start(ctx, "command.dispatch")
	defer span.End()

	outcome, err := d.dispatch(text, kb)
	span.SetAttributes(attribute.String("command.outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.Command(ctx, "error")
		return outcome, err
	}
	d.metrics.Command(ctx, outcome.String())
	return outcome, nil
}

func (d *Dispatcher) dispatch(text string, kb Keyboard) (Outcome, error) {
	m, ok := d.Match(text)
	if !ok {
		return NoMatch, nil
	}
	d.log.Info("command trigger matched", slog.String("trigger", m.Trigger), slog.String("args", m.Args))

	switch m.Kind {
	case config.ActionType:
		if kb == nil {
			return Typed, ErrNoKeyboard
		}
		kb.TypeText(m.Text)
		return Typed, nil
	case config.ActionExec:
		return Executed, d.exec(m.Text)
	default:
		return NoMatch, fmt.Errorf("command: unknown action %q for trigger %q", m.Kind, m.Trigger)
	}
}

func (d *Dispatcher) exec(commandLine string) error {
	parts := strings.Fields(commandLine)
	if len(parts) == 0 {
		return ErrEmptyCommand
	}
	wait, err := d.launcher(parts[0], parts[1:]...)
	if err != nil {
		return fmt.Errorf("command: failed to execute %q: %w", parts[0], err)
	}
	d.log.Debug("command started", slog.String("program", parts[0]), slog.Any("args", parts[1:]))
	go func() {
		if err := wait(); err != nil {
			d.log.Warn("command exited with error", slog.String("program", parts[0]), slog.String("error", err.Error()))
			return
		}
		d.log.Debug("command exited", slog.String("program", parts[0]))
	}()
	return nil
}
