// Package prompt asks for confirmation before destructive commands.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("aborted")

// Confirm asks a yes/no question. An empty answer is no.
func Confirm(label string) (bool, error) {
	return confirm(promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	})
}

// ConfirmWithForce skips the prompt when force is set.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label)
}

// ConfirmDanger requires the user to type word to proceed.
func ConfirmDanger(label, word string) (bool, error) {
	return ConfirmDangerFrom(nil, nil, label, word)
}

// ConfirmDangerFrom is ConfirmDanger reading from in and writing to out.
// Nil streams mean the terminal.
func ConfirmDangerFrom(in io.ReadCloser, out io.WriteCloser, label, word string) (bool, error) {
	p := promptui.Prompt{
		Label:  fmt.Sprintf("%s (type '%s' to confirm)", label, word),
		Stdin:  in,
		Stdout: out,
		Validate: func(s string) error {
			if strings.TrimSpace(s) != word {
				return fmt.Errorf("type '%s' to confirm", word)
			}
			return nil
		},
	}
	result, err := p.Run()
	if err != nil {
		return false, mapErr(err)
	}
	return strings.TrimSpace(result) == word, nil
}

func confirm(p promptui.Prompt) (bool, error) {
	result, err := p.Run()
	if err != nil {
		// promptui reports "n" and an empty answer as ErrAbort.
		return false, mapErr(err)
	}
	answer := strings.ToLower(strings.TrimSpace(result))
	return answer == "y" || answer == "yes", nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
		return ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		return nil
	}
	return err
}
