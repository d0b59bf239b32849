// Package questionnaire runs the post-experiment questions and submits the
// participant's data.
package questionnaire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iburimskiy/stroop-dots/internal/config"
	"github.com/iburimskiy/stroop-dots/internal/platform"
	"go.uber.org/zap"
)

const phase = "postquestionnaire"

// SubmitFailedMsg is shown when saving the participant's data fails.
const SubmitFailedMsg = "Oops! Something went wrong submitting your HIT. This might happen if you lose your internet connection. Press the button to resubmit."

// ErrAbandoned is returned when the participant declines to resubmit.
var ErrAbandoned = errors.New("submission abandoned")

// Prompter asks the participant questions.
type Prompter interface {
	// Ask returns the answer to q. An empty answer is allowed.
	Ask(ctx context.Context, q config.Question) (string, error)
	// ConfirmResubmit reports whether to try saving again after err.
	ConfirmResubmit(ctx context.Context, msg string, err error) (bool, error)
}

// Server is the HIT data endpoint.
type Server interface {
	SaveData(ctx context.Context, d platform.Data) error
	ComputeBonus(ctx context.Context) error
	CompleteHIT(ctx context.Context) error
}

// Recorder holds the data to submit.
type Recorder interface {
	RecordTrialData(fields map[string]any)
	RecordUnstructuredData(key, value string)
	Snapshot() platform.Data
}

// Questionnaire asks the configured questions and submits.
type Questionnaire struct {
	questions []config.Question
	prompt    Prompter
	server    Server
	rec       Recorder
	timeout   time.Duration
	log       *zap.Logger
}

// New returns a Questionnaire. Each save attempt is bounded by timeout.
func New(questions []config.Question, p Prompter, s Server, r Recorder, timeout time.Duration, log *zap.Logger) *Questionnaire {
	if log == nil {
		log = zap.NewNop()
	}
	return &Questionnaire{
		questions: questions,
		prompt:    p,
		server:    s,
		rec:       r,
		timeout:   timeout,
		log:       log,
	}
}

// Run asks every question, records the answers and submits them.
func (q *Questionnaire) Run(ctx context.Context) error {
	q.rec.RecordTrialData(map[string]any{"phase": phase, "status": "begin"})

	for _, question := range q.questions {
		answer, err := q.prompt.Ask(ctx, question)
		if err != nil {
			return fmt.Errorf("question %s: %w", question.ID, err)
		}
		q.rec.RecordUnstructuredData(question.ID, answer)
	}

	q.rec.RecordTrialData(map[string]any{"phase": phase, "status": "submit"})
	return q.Submit(ctx)
}

// Submit saves the recorded data, offering a resubmit after each failure,
// then computes the bonus and completes the HIT.
func (q *Questionnaire) Submit(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := q.save(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		q.log.Warn("save failed", zap.Int("attempt", attempt), zap.Error(err))

		again, perr := q.prompt.ConfirmResubmit(ctx, SubmitFailedMsg, err)
		if perr != nil {
			return errors.Join(err, perr)
		}
		if !again {
			return fmt.Errorf("%w: %w", ErrAbandoned, err)
		}
	}

	if err := q.server.ComputeBonus(ctx); err != nil {
		q.log.Warn("bonus computation failed", zap.Error(err))
	}
	if err := q.server.CompleteHIT(ctx); err != nil {
		return fmt.Errorf("complete hit: %w", err)
	}
	q.log.Info("hit completed")
	return nil
}

func (q *Questionnaire) save(ctx context.Context) error {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	return q.server.SaveData(ctx, q.rec.Snapshot())
}
