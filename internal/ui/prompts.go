package ui

import (
	"fmt"
	"os"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// Prompter asks interactive questions on one terminal.
type Prompter struct {
	stdio terminal.Stdio
}

// NewPrompter prompts on os.Stdin and os.Stdout.
func NewPrompter() *Prompter {
	return NewPrompterWithStdio(terminal.Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
}

// NewPrompterWithStdio prompts on a custom terminal, e.g. a virtual one in tests.
func NewPrompterWithStdio(stdio terminal.Stdio) *Prompter {
	return &Prompter{stdio: stdio}
}

func (p *Prompter) ask(prompt survey.Prompt, out interface{}, opts ...survey.AskOpt) error {
	opts = append(opts, survey.WithStdio(p.stdio.In, p.stdio.Out, p.stdio.Err))
	return survey.AskOne(prompt, out, opts...)
}

// Required asks for a non-empty answer, checked by validate when given.
func (p *Prompter) Required(label string, validate func(string) error) (string, error) {
	var value string
	opts := []survey.AskOpt{survey.WithValidator(survey.Required)}
	if validate != nil {
		opts = append(opts, survey.WithValidator(func(ans interface{}) error {
			if s, ok := ans.(string); ok {
				return validate(s)
			}
			return nil
		}))
	}
	err := p.ask(&survey.Input{Message: label}, &value, opts...)
	return value, err
}

// Default asks for a string; an empty answer keeps def.
func (p *Prompter) Default(label, def string) (string, error) {
	var value string
	if err := p.ask(&survey.Input{Message: label, Default: def}, &value); err != nil {
		return def, err
	}
	if value == "" {
		return def, nil
	}
	return value, nil
}

// Int asks for an integer within [lo, hi]; an empty answer keeps def.
func (p *Prompter) Int(label string, def, lo, hi int) (int, error) {
	var value string
	validate := func(ans interface{}) error {
		s, _ := ans.(string)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%q is not a number", s)
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
	prompt := &survey.Input{Message: label, Default: strconv.Itoa(def)}
	if err := p.ask(prompt, &value, survey.WithValidator(validate)); err != nil {
		return def, err
	}
	if value == "" {
		return def, nil
	}
	return strconv.Atoi(value)
}

// Secret asks for a masked value.
func (p *Prompter) Secret(label string) (string, error) {
	var value string
	err := p.ask(&survey.Password{Message: label}, &value)
	return value, err
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(label string, defaultYes bool) (bool, error) {
	var value bool
	err := p.ask(&survey.Confirm{Message: label, Default: defaultYes}, &value)
	return value, err
}

// Select asks for one of options; def preselects an entry when non-empty.
func (p *Prompter) Select(label string, options []string, def string) (string, error) {
	var value string
	prompt := &survey.Select{Message: label, Options: options}
	if def != "" {
		prompt.Default = def
	}
	err := p.ask(prompt, &value)
	return value, err
}
