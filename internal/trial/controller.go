// Package trial runs the participant's trials against the experiment server:
// register an agent, fetch what was transmitted to it, show the stimulus or
// the hint, collect an answer and report it.
package trial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iburimskiy/stroop-dots/internal/dots"
	"github.com/iburimskiy/stroop-dots/internal/platform"
	"github.com/iburimskiy/stroop-dots/internal/stimulus"
	"go.uber.org/zap"
)

// Learning strategies a node can inherit.
const (
	Asocial = "asocial"
	Social  = "social"
)

const memeType = "meme"

const (
	askDots    = "Are there more blue or yellow dots?"
	hintDots   = "Someone else looked at the display and decided that there are more %s dots. Are there more blue or yellow dots?"
	sendingMsg = "Sending..."
)

var (
	// ErrExperimentOver is returned once the server stops handing out agents.
	ErrExperimentOver = errors.New("experiment over")
	// ErrUnknownStrategy is returned for a learning strategy other than
	// asocial or social.
	ErrUnknownStrategy = errors.New("unknown learning strategy")
)

// Step names one stage of a trial.
type Step string

const (
	StepCreateAgent   Step = "create-agent"
	StepStrategy      Step = "learning-strategy"
	StepTransmissions Step = "transmissions"
	StepInformation   Step = "information"
	StepPresent       Step = "present"
	StepResponse      Step = "response"
	StepReport        Step = "report"
)

// StepError is a failed trial step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// API is the part of the experiment server a trial needs.
type API interface {
	CreateAgent(ctx context.Context) (platform.Agent, error)
	Information(ctx context.Context, originUUID string) ([]platform.Info, error)
	PendingTransmissions(ctx context.Context, destinationUUID string) ([]platform.Transmission, error)
	Info(ctx context.Context, uuid string) (platform.Info, error)
	CreateInfo(ctx context.Context, originUUID, contents, infoType string) error
}

// Display is what the participant sees and answers with.
type Display interface {
	stimulus.Surface
	ShowInstructions(text string)
	ShowStatus(text string)
	EnableResponses(enabled bool)
	// AwaitResponse blocks until the participant answers or ctx ends.
	AwaitResponse(ctx context.Context) (Choice, error)
	SetTrial(n int)
}

// Prompter asks whether a failed step should be tried again.
type Prompter interface {
	Retry(ctx context.Context, err *StepError) (bool, error)
}

// FieldGenerator builds dot fields.
type FieldGenerator interface {
	Generate(p dots.Params) (dots.Field, error)
}

// Presenter shows a field for a fixed time.
type Presenter interface {
	Present(ctx context.Context, f dots.Field, d time.Duration) error
}

// Recorder stores per-trial data.
type Recorder interface {
	RecordTrialData(fields map[string]any)
}

// Options wires a Controller.
type Options struct {
	API       API
	Display   Display
	Generator FieldGenerator
	Presenter Presenter
	Prompter  Prompter
	Recorder  Recorder
	Responses Responses
	Field     dots.Params // Ratio is ignored; it comes from each trial's state
	Duration  time.Duration
	Logger    *zap.Logger
}

// Controller runs trials one after another.
type Controller struct {
	Options
	now func() time.Time
}

// Result describes one completed trial.
type Result struct {
	AgentUUID string
	Strategy  string
	Ratio     float64 // blue fraction; only set for asocial trials
	Hint      *Choice // only set for social trials
	Choice    Choice
	RT        time.Duration
}

// New returns a Controller.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{Options: opts, now: time.Now}
}

// Run plays trials until the server stops handing out agents and returns the
// number of completed trials. Any other unrecovered failure is returned.
func (c *Controller) Run(ctx context.Context) (int, error) {
	n := 0
	for {
		c.Display.SetTrial(n + 1)
		res, err := c.RunTrial(ctx)
		if errors.Is(err, ErrExperimentOver) {
			c.Logger.Info("experiment over", zap.Int("trials", n), zap.Error(err))
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		c.Logger.Info("trial complete",
			zap.Int("trial", n),
			zap.String("agent", res.AgentUUID),
			zap.String("strategy", res.Strategy),
			zap.Stringer("choice", res.Choice),
			zap.Duration("rt", res.RT))
	}
}

// RunTrial plays a single trial.
func (c *Controller) RunTrial(ctx context.Context) (Result, error) {
	var res Result

	agent, err := c.API.CreateAgent(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w: %w", ErrExperimentOver, &StepError{Step: StepCreateAgent, Err: err})
	}
	res.AgentUUID = agent.UUID
	c.Logger.Debug("agent created", zap.String("agent", agent.UUID))

	err = c.step(ctx, StepStrategy, func(ctx context.Context) error {
		infos, err := c.API.Information(ctx, agent.UUID)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			return fmt.Errorf("no learning strategy: %w", platform.ErrNotFound)
		}
		res.Strategy = infos[0].Contents
		if res.Strategy != Asocial && res.Strategy != Social {
			return fmt.Errorf("%w: %q", ErrUnknownStrategy, res.Strategy)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	var infoUUID string
	err = c.step(ctx, StepTransmissions, func(ctx context.Context) error {
		ts, err := c.API.PendingTransmissions(ctx, agent.UUID)
		if err != nil {
			return err
		}
		if len(ts) == 0 {
			return fmt.Errorf("no pending transmission: %w", platform.ErrNotFound)
		}
		infoUUID = ts[0].InfoUUID
		return nil
	})
	if err != nil {
		return res, err
	}

	var info platform.Info
	err = c.step(ctx, StepInformation, func(ctx context.Context) (err error) {
		info, err = c.API.Info(ctx, infoUUID)
		if err != nil {
			return err
		}
		switch res.Strategy {
		case Asocial:
			res.Ratio, err = c.Responses.Ratio(info.Contents)
		case Social:
			var hint Choice
			hint, err = c.Responses.Decode(info.Contents)
			res.Hint = &hint
		}
		return err
	})
	if err != nil {
		return res, err
	}

	c.Display.EnableResponses(false)
	switch res.Strategy {
	case Asocial:
		c.Display.ShowInstructions(askDots)
		err = c.step(ctx, StepPresent, func(ctx context.Context) error {
			p := c.Field
			p.Ratio = res.Ratio
			f, err := c.Generator.Generate(p)
			if err != nil {
				return err
			}
			return c.Presenter.Present(ctx, f, c.Duration)
		})
		if err != nil {
			return res, err
		}
	case Social:
		c.Display.ShowInstructions(fmt.Sprintf(hintDots, *res.Hint))
	}

	c.Display.EnableResponses(true)
	shown := c.now()
	err = c.step(ctx, StepResponse, func(ctx context.Context) (err error) {
		res.Choice, err = c.Display.AwaitResponse(ctx)
		return err
	})
	if err != nil {
		return res, err
	}
	res.RT = c.now().Sub(shown)
	c.Display.EnableResponses(false)

	c.Display.ShowStatus(sendingMsg)
	err = c.step(ctx, StepReport, func(ctx context.Context) error {
		return c.API.CreateInfo(ctx, agent.UUID, c.Responses.Wire(res.Choice), memeType)
	})
	c.Display.ShowStatus("")
	if err != nil {
		return res, err
	}

	c.record(res)
	return res, nil
}

// step runs fn, offering the participant a retry after each failure. It
// returns a *StepError when the participant declines.
func (c *Controller) step(ctx context.Context, s Step, fn func(context.Context) error) error {
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		serr := &StepError{Step: s, Err: err}
		c.Logger.Warn("trial step failed", zap.String("step", string(s)), zap.Error(err))
		if !retryable(err) {
			return serr
		}
		retry, perr := c.Prompter.Retry(ctx, serr)
		if perr != nil {
			return errors.Join(serr, perr)
		}
		if !retry {
			return serr
		}
		c.Logger.Info("retrying trial step", zap.String("step", string(s)))
	}
}

// retryable reports whether trying again could change the outcome.
func retryable(err error) bool {
	return !errors.Is(err, ErrUnknownStrategy) &&
		!errors.Is(err, ErrInvalidState) &&
		!errors.Is(err, ErrUnknownWireValue) &&
		!errors.Is(err, dots.ErrInvalidConfiguration) &&
		!errors.Is(err, stimulus.ErrPresentationPending)
}

func (c *Controller) record(res Result) {
	if c.Recorder == nil {
		return
	}
	fields := map[string]any{
		"phase":    "trial",
		"agent":    res.AgentUUID,
		"strategy": res.Strategy,
		"choice":   res.Choice.String(),
		"response": c.Responses.Wire(res.Choice),
		"rt":       res.RT.Milliseconds(),
	}
	switch res.Strategy {
	case Asocial:
		fields["ratio"] = res.Ratio
		if want, ok := Majority(res.Ratio, c.Field.Total); ok {
			fields["correct"] = want == res.Choice
		}
	case Social:
		if res.Hint != nil {
			fields["hint"] = res.Hint.String()
			fields["followed_hint"] = *res.Hint == res.Choice
		}
	}
	c.Recorder.RecordTrialData(fields)
}
