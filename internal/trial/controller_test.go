package trial

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/iburimskiy/stroop-dots/internal/config"
	"github.com/iburimskiy/stroop-dots/internal/dots"
	"github.com/iburimskiy/stroop-dots/internal/platform"
	"github.com/iburimskiy/stroop-dots/internal/stimulus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer hands out agents until capacity is reached.
type fakeServer struct {
	mu        sync.Mutex
	capacity  int
	agents    int
	strategy  string
	contents  string
	failInfo  int // fail this many Info calls before answering
	noTrans   bool
	memes     []string
	infoCalls int
}

func (s *fakeServer) CreateAgent(ctx context.Context) (platform.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents >= s.capacity {
		return platform.Agent{}, &platform.StatusError{Method: http.MethodPost, Path: "/agents", Code: http.StatusForbidden}
	}
	s.agents++
	return platform.Agent{UUID: "agent-" + string(rune('0'+s.agents))}, nil
}

func (s *fakeServer) Information(ctx context.Context, origin string) ([]platform.Info, error) {
	return []platform.Info{{UUID: "gene", OriginUUID: origin, Contents: s.strategy}}, nil
}

func (s *fakeServer) PendingTransmissions(ctx context.Context, dest string) ([]platform.Transmission, error) {
	if s.noTrans {
		return nil, nil
	}
	return []platform.Transmission{{InfoUUID: "info-1", DestinationUUID: dest}}, nil
}

func (s *fakeServer) Info(ctx context.Context, uuid string) (platform.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infoCalls++
	if s.failInfo > 0 {
		s.failInfo--
		return platform.Info{}, errors.New("connection reset")
	}
	return platform.Info{UUID: uuid, Contents: s.contents}, nil
}

func (s *fakeServer) CreateInfo(ctx context.Context, origin, contents, infoType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if infoType != memeType {
		return errors.New("unexpected info type " + infoType)
	}
	s.memes = append(s.memes, contents)
	return nil
}

type fakeDisplay struct {
	mu           sync.Mutex
	answers      chan Choice
	instructions []string
	enabled      bool
	shown        []dots.Field
	hides        int
	enabledAtAsk []bool
}

func newFakeDisplay(answers ...Choice) *fakeDisplay {
	d := &fakeDisplay{answers: make(chan Choice, len(answers))}
	for _, a := range answers {
		d.answers <- a
	}
	return d
}

func (d *fakeDisplay) Show(f dots.Field) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, f)
}

func (d *fakeDisplay) Hide() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hides++
}

func (d *fakeDisplay) ShowInstructions(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instructions = append(d.instructions, text)
}

func (d *fakeDisplay) ShowStatus(string) {}
func (d *fakeDisplay) SetTrial(int)      {}

func (d *fakeDisplay) EnableResponses(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

func (d *fakeDisplay) AwaitResponse(ctx context.Context) (Choice, error) {
	d.mu.Lock()
	d.enabledAtAsk = append(d.enabledAtAsk, d.enabled)
	d.mu.Unlock()
	select {
	case c := <-d.answers:
		return c, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

type fakePrompter struct {
	answer bool
	asked  []*StepError
}

func (p *fakePrompter) Retry(ctx context.Context, err *StepError) (bool, error) {
	p.asked = append(p.asked, err)
	return p.answer, nil
}

type fakeRecorder struct{ rows []map[string]any }

func (r *fakeRecorder) RecordTrialData(fields map[string]any) { r.rows = append(r.rows, fields) }

func newController(srv *fakeServer, disp *fakeDisplay, prompt *fakePrompter, rec *fakeRecorder) *Controller {
	return New(Options{
		API:       srv,
		Display:   disp,
		Generator: dots.NewGenerator(rand.NewSource(1)),
		Presenter: stimulus.NewPresenter(disp, zap.NewNop()),
		Prompter:  prompt,
		Recorder:  rec,
		Responses: NewResponses(config.DefaultConfig().Responses),
		Field: dots.Params{
			Total:  20,
			Bounds: dots.Bounds{Width: 300, Height: 200},
			Radius: dots.RadiusRange{Min: 8, Max: 12},
		},
		Duration: 10 * time.Millisecond,
		Logger:   zap.NewNop(),
	})
}

func TestRun_AsocialUntilFull(t *testing.T) {
	srv := &fakeServer{capacity: 2, strategy: Asocial, contents: "0.75"}
	disp := newFakeDisplay(Blue, Yellow)
	rec := &fakeRecorder{}
	c := newController(srv, disp, &fakePrompter{}, rec)

	n, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{"0", "1"}, srv.memes)
	require.Len(t, disp.shown, 2)
	assert.Equal(t, 2, disp.hides)
	for _, f := range disp.shown {
		blue, yellow := f.Counts()
		assert.Equal(t, 15, blue)
		assert.Equal(t, 5, yellow)
	}
	assert.Equal(t, []bool{true, true}, disp.enabledAtAsk)
	assert.Equal(t, askDots, disp.instructions[0])

	require.Len(t, rec.rows, 2)
	assert.Equal(t, true, rec.rows[0]["correct"])
	assert.Equal(t, false, rec.rows[1]["correct"])
	assert.Equal(t, 0.75, rec.rows[0]["ratio"])
}

func TestRunTrial_WireValueState(t *testing.T) {
	for state, want := range map[string]Choice{"0": Blue, "1": Yellow} {
		t.Run(state, func(t *testing.T) {
			srv := &fakeServer{capacity: 1, strategy: Asocial, contents: state}
			disp := newFakeDisplay(want)
			c := newController(srv, disp, &fakePrompter{}, &fakeRecorder{})

			res, err := c.RunTrial(context.Background())
			require.NoError(t, err)
			require.Len(t, disp.shown, 1)
			blue, yellow := disp.shown[0].Counts()
			if want == Blue {
				assert.Equal(t, 1.0, res.Ratio)
				assert.Equal(t, 20, blue)
				assert.Equal(t, 0, yellow)
			} else {
				assert.Equal(t, 0.0, res.Ratio)
				assert.Equal(t, 0, blue)
				assert.Equal(t, 20, yellow)
			}
		})
	}
}

func TestRunTrial_Social(t *testing.T) {
	srv := &fakeServer{capacity: 1, strategy: Social, contents: "1"}
	disp := newFakeDisplay(Yellow)
	rec := &fakeRecorder{}
	c := newController(srv, disp, &fakePrompter{}, rec)

	res, err := c.RunTrial(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Hint)
	assert.Equal(t, Yellow, *res.Hint)
	assert.Equal(t, Yellow, res.Choice)

	assert.Empty(t, disp.shown, "social trials show no dots")
	assert.Contains(t, disp.instructions[0], "more yellow dots")
	assert.Equal(t, []string{"1"}, srv.memes)
	assert.Equal(t, true, rec.rows[0]["followed_hint"])
}

func TestRunTrial_CustomWireValues(t *testing.T) {
	srv := &fakeServer{capacity: 1, strategy: Social, contents: "blue"}
	disp := newFakeDisplay(Yellow)
	c := newController(srv, disp, &fakePrompter{}, &fakeRecorder{})
	c.Responses = NewResponses(config.ResponseConfig{Blue: "blue", Yellow: "yellow"})

	_, err := c.RunTrial(context.Background())
	require.NoError(t, err)
	assert.Contains(t, disp.instructions[0], "more blue dots")
	assert.Equal(t, []string{"yellow"}, srv.memes)
}

func TestRunTrial_ExperimentOver(t *testing.T) {
	srv := &fakeServer{capacity: 0}
	c := newController(srv, newFakeDisplay(), &fakePrompter{}, &fakeRecorder{})

	_, err := c.RunTrial(context.Background())
	assert.ErrorIs(t, err, ErrExperimentOver)

	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StepCreateAgent, serr.Step)
	var status *platform.StatusError
	assert.ErrorAs(t, err, &status)
}

func TestRunTrial_RetryThenSucceed(t *testing.T) {
	srv := &fakeServer{capacity: 1, strategy: Asocial, contents: "0.2", failInfo: 2}
	prompt := &fakePrompter{answer: true}
	c := newController(srv, newFakeDisplay(Yellow), prompt, &fakeRecorder{})

	_, err := c.RunTrial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, srv.infoCalls)
	require.Len(t, prompt.asked, 2)
	assert.Equal(t, StepInformation, prompt.asked[0].Step)
}

func TestRunTrial_RetryDeclined(t *testing.T) {
	srv := &fakeServer{capacity: 1, strategy: Asocial, noTrans: true}
	prompt := &fakePrompter{answer: false}
	c := newController(srv, newFakeDisplay(), prompt, &fakeRecorder{})

	_, err := c.RunTrial(context.Background())
	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StepTransmissions, serr.Step)
	assert.ErrorIs(t, err, platform.ErrNotFound)
	assert.Len(t, prompt.asked, 1)
}

func TestRunTrial_PermanentErrorsSkipPrompt(t *testing.T) {
	for name, srv := range map[string]*fakeServer{
		"unknown strategy": {capacity: 1, strategy: "imitate"},
		"bad state":        {capacity: 1, strategy: Asocial, contents: "lots"},
		"bad meme":         {capacity: 1, strategy: Social, contents: "green"},
	} {
		t.Run(name, func(t *testing.T) {
			prompt := &fakePrompter{answer: true}
			c := newController(srv, newFakeDisplay(), prompt, &fakeRecorder{})

			_, err := c.RunTrial(context.Background())
			var serr *StepError
			require.ErrorAs(t, err, &serr)
			assert.Empty(t, prompt.asked)
		})
	}
}

func TestRunTrial_Cancelled(t *testing.T) {
	srv := &fakeServer{capacity: 1, strategy: Social, contents: "0"}
	c := newController(srv, newFakeDisplay(), &fakePrompter{answer: true}, &fakeRecorder{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.RunTrial(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, srv.memes)
}
