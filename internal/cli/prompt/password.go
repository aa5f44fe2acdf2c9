// Package prompt wraps interactive terminal input for the CLI.
package prompt

import (
	"errors"

	"github.com/manifoldco/promptui"
)

// ErrAborted indicates the user canceled the prompt.
var ErrAborted = errors.New("prompt aborted")

// Password prompts for a secret with masking.
func Password(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}
	result, err := p.Run()
	return result, wrapError(err)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrEOF) {
		return ErrAborted
	}
	return err
}
