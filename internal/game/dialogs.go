package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/iburimskiy/stroop-dots/internal/config"
	"github.com/iburimskiy/stroop-dots/internal/trial"
	"github.com/ncruces/zenity"
	"go.uber.org/zap"
)

// Dialogs asks the participant through native dialogs. It serves both the
// trial retry prompt and the questionnaire.
type Dialogs struct {
	Title string
	Log   *zap.Logger
	// Game, if set, mirrors failures in the window's error line.
	Game *Game
}

// Retry asks whether to repeat a failed trial step.
func (d *Dialogs) Retry(ctx context.Context, err *trial.StepError) (bool, error) {
	d.showError(err)
	msg := fmt.Sprintf("Something went wrong (%s):\n%v\n\nThis might happen if you lose your internet connection.", err.Step, err.Err)
	ok, qerr := d.confirm(ctx, msg, "Try again", "Quit")
	if ok {
		d.showError(nil)
	}
	return ok, qerr
}

// ConfirmResubmit asks whether to save the participant's data again.
func (d *Dialogs) ConfirmResubmit(ctx context.Context, msg string, err error) (bool, error) {
	d.showError(err)
	ok, qerr := d.confirm(ctx, msg, "Resubmit", "Quit")
	if ok {
		d.showError(nil)
	}
	return ok, qerr
}

// Ask shows q as a list when it has options and as a text entry otherwise.
// Cancelling a question leaves its answer empty.
func (d *Dialogs) Ask(ctx context.Context, q config.Question) (string, error) {
	var (
		answer string
		err    error
	)
	if len(q.Options) > 0 {
		answer, err = zenity.List(q.Prompt, q.Options,
			zenity.Title(d.Title), zenity.DisallowEmpty(), zenity.Context(ctx))
	} else {
		answer, err = zenity.Entry(q.Prompt, zenity.Title(d.Title), zenity.Context(ctx))
	}
	if errors.Is(err, zenity.ErrCanceled) {
		d.log().Info("question skipped", zap.String("question", q.ID))
		return "", nil
	}
	return answer, err
}

// Fatal reports an error the client cannot recover from.
func (d *Dialogs) Fatal(err error) {
	d.showError(err)
	if derr := zenity.Error(err.Error(), zenity.Title(d.Title)); derr != nil {
		d.log().Warn("error dialog failed", zap.Error(derr))
	}
}

func (d *Dialogs) confirm(ctx context.Context, text, ok, cancel string) (bool, error) {
	err := zenity.Question(text,
		zenity.Title(d.Title),
		zenity.OKLabel(ok),
		zenity.CancelLabel(cancel),
		zenity.ErrorIcon,
		zenity.Context(ctx))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, zenity.ErrCanceled):
		return false, nil
	}
	return false, err
}

func (d *Dialogs) showError(err error) {
	if d.Game != nil {
		d.Game.SetError(err)
	}
}

func (d *Dialogs) log() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}
