//go:build !windows

package ui

import (
	"errors"
	"testing"

	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/mbourmaud/conductor/internal/testutil"
)

func TestPrompter_Required(t *testing.T) {
	var got string
	err := testutil.RunPromptTest(t,
		func(c testutil.Console) {
			c.ExpectString("Agent name")
			c.SendLine("backend-dev")
			c.ExpectEOF()
		},
		func(stdio terminal.Stdio) error {
			var err error
			got, err = NewPrompterWithStdio(stdio).Required("Agent name", nil)
			return err
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	if got != "backend-dev" {
		t.Errorf("expected backend-dev, got %q", got)
	}
}

func TestPrompter_RequiredValidatorRetries(t *testing.T) {
	validate := func(s string) error {
		if len(s) < 3 {
			return errors.New("too short")
		}
		return nil
	}

	var got string
	err := testutil.RunPromptTest(t,
		func(c testutil.Console) {
			c.ExpectString("Agent name")
			c.SendLine("qa")
			c.ExpectString("too short")
			c.SendLine("qa-bot")
			c.ExpectEOF()
		},
		func(stdio terminal.Stdio) error {
			var err error
			got, err = NewPrompterWithStdio(stdio).Required("Agent name", validate)
			return err
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	if got != "qa-bot" {
		t.Errorf("expected qa-bot, got %q", got)
	}
}

func TestPrompter_Default(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"keeps default", "", "claude-sonnet-4-20250514"},
		{"override", "claude-opus-4", "claude-opus-4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			err := testutil.RunPromptTest(t,
				func(c testutil.Console) {
					c.ExpectString("Model")
					c.SendLine(tt.input)
					c.ExpectEOF()
				},
				func(stdio terminal.Stdio) error {
					var err error
					got, err = NewPrompterWithStdio(stdio).Default("Model", "claude-sonnet-4-20250514")
					return err
				},
			)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPrompter_Int(t *testing.T) {
	var got int
	err := testutil.RunPromptTest(t,
		func(c testutil.Console) {
			c.ExpectString("Max agents")
			c.SendLine("99")
			c.ExpectString("between 1 and 64")
			c.SendLine("8")
			c.ExpectEOF()
		},
		func(stdio terminal.Stdio) error {
			var err error
			got, err = NewPrompterWithStdio(stdio).Int("Max agents", 4, 1, 64)
			return err
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("expected 8, got %d", got)
	}
}

func TestPrompter_Secret(t *testing.T) {
	var got string
	err := testutil.RunPromptTest(t,
		func(c testutil.Console) {
			c.ExpectString("API key")
			c.SendLine("sk-test-123")
			c.ExpectEOF()
		},
		func(stdio terminal.Stdio) error {
			var err error
			got, err = NewPrompterWithStdio(stdio).Secret("API key")
			return err
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	if got != "sk-test-123" {
		t.Errorf("expected secret, got %q", got)
	}
}

func TestPrompter_Confirm(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		defaultYes bool
		want       bool
	}{
		{"yes", "y", false, true},
		{"no", "n", true, false},
		{"default yes", "", true, true},
		{"default no", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			err := testutil.RunPromptTest(t,
				func(c testutil.Console) {
					c.ExpectString("Enable Redis?")
					c.SendLine(tt.input)
					c.ExpectEOF()
				},
				func(stdio terminal.Stdio) error {
					var err error
					got, err = NewPrompterWithStdio(stdio).Confirm("Enable Redis?", tt.defaultYes)
					return err
				},
			)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPrompter_Select(t *testing.T) {
	var got string
	err := testutil.RunPromptTest(t,
		func(c testutil.Console) {
			c.ExpectString("Runtime")
			c.Send(testutil.KeyDown)
			c.SendLine("")
			c.ExpectEOF()
		},
		func(stdio terminal.Stdio) error {
			var err error
			got, err = NewPrompterWithStdio(stdio).Select("Runtime", []string{"anthropic", "scripted"}, "")
			return err
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	if got != "scripted" {
		t.Errorf("expected scripted, got %q", got)
	}
}
