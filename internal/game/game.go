package game

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/iburimskiy/stroop-dots/internal/config"
	"github.com/iburimskiy/stroop-dots/internal/dots"
	"github.com/iburimskiy/stroop-dots/internal/trial"
	"go.uber.org/zap"
)

var (
	background  = color.RGBA{R: 18, G: 20, B: 28, A: 255}
	stageFill   = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	stageBorder = color.RGBA{R: 60, G: 70, B: 90, A: 255}
)

type button struct {
	choice trial.Choice
	label  string
	x, y   int
	fill   color.RGBA
}

func (b button) contains(x, y int) bool {
	return x >= b.x && x <= b.x+config.ButtonWidth &&
		y >= b.y && y <= b.y+config.ButtonHeight
}

// Game is the participant window. The trial controller drives it from its
// own goroutine while ebiten calls Update and Draw; everything shared is
// guarded by mu.
type Game struct {
	log       *zap.Logger
	primary   color.RGBA
	secondary color.RGBA
	buttons   [2]button
	start     time.Time

	// input edge detection, ebiten goroutine only
	prevKey map[ebiten.Key]bool
	hovered int
	pressed int

	mu           sync.RWMutex
	field        dots.Field
	instructions string
	status       string
	enabled      bool
	sending      int
	trial        int
	lastErr      error
	closed       bool

	responses chan trial.Choice
}

// New returns a Game drawing dots in the configured colors.
func New(cfg *config.Config, log *zap.Logger) (*Game, error) {
	if log == nil {
		log = zap.NewNop()
	}
	primary, err := config.ParseColor(cfg.Stimulus.PrimaryColor)
	if err != nil {
		return nil, err
	}
	secondary, err := config.ParseColor(cfg.Stimulus.SecondaryColor)
	if err != nil {
		return nil, err
	}

	left := (config.WindowWidth - 2*config.ButtonWidth - config.ButtonGap) / 2
	return &Game{
		log:       log,
		primary:   primary,
		secondary: secondary,
		buttons: [2]button{
			{choice: trial.Blue, label: "Blue", x: left, y: config.ButtonY, fill: primary},
			{choice: trial.Yellow, label: "Yellow", x: left + config.ButtonWidth + config.ButtonGap, y: config.ButtonY, fill: secondary},
		},
		start:     time.Now(),
		prevKey:   map[ebiten.Key]bool{},
		hovered:   -1,
		pressed:   -1,
		sending:   -1,
		responses: make(chan trial.Choice, 1),
	}, nil
}

// Show makes f visible on the stage.
func (g *Game) Show(f dots.Field) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.field = f
}

// Hide clears the stage.
func (g *Game) Hide() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.field = nil
}

// ShowInstructions replaces the instruction line.
func (g *Game) ShowInstructions(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instructions = text
}

// ShowStatus replaces the status text. "Sending..." also relabels the button
// that was just answered.
func (g *Game) ShowStatus(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = text
	if text == "" {
		g.sending = -1
	}
}

// SetTrial sets the trial number shown in the status bar.
func (g *Game) SetTrial(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trial = n
}

// SetError shows err under the status bar until replaced; nil clears it.
func (g *Game) SetError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastErr = err
}

// EnableResponses turns the answer buttons on or off. Answers given before
// the buttons were enabled are discarded.
func (g *Game) EnableResponses(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if enabled {
		select {
		case <-g.responses:
		default:
		}
	}
	g.enabled = enabled
}

// AwaitResponse blocks until an enabled button is used or ctx ends.
func (g *Game) AwaitResponse(ctx context.Context) (trial.Choice, error) {
	select {
	case c := <-g.responses:
		return c, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close ends the window at the next frame.
func (g *Game) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

// answer accepts c if responses are enabled, disabling them until the
// controller asks again.
func (g *Game) answer(c trial.Choice) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return false
	}
	select {
	case g.responses <- c:
	default:
		return false
	}
	g.enabled = false
	g.sending = int(c)
	g.log.Debug("response", zap.Stringer("choice", c))
	return true
}

func (g *Game) Update() error {
	justPressed := func(k ebiten.Key) bool {
		pressed := ebiten.IsKeyPressed(k)
		jp := pressed && !g.prevKey[k]
		g.prevKey[k] = pressed
		return jp
	}

	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed || justPressed(ebiten.KeyEscape) || justPressed(ebiten.KeyQ) {
		return ebiten.Termination
	}

	mouseX, mouseY := ebiten.CursorPosition()
	g.hovered = -1
	for i, b := range g.buttons {
		if b.contains(mouseX, mouseY) {
			g.hovered = i
		}
	}
	if g.hovered >= 0 && inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		g.pressed = g.hovered
	}
	if inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) {
		if g.pressed >= 0 && g.pressed == g.hovered {
			g.answer(g.buttons[g.pressed].choice)
		}
		g.pressed = -1
	}

	if justPressed(ebiten.KeyB) {
		g.answer(trial.Blue)
	}
	if justPressed(ebiten.KeyY) {
		g.answer(trial.Yellow)
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(background)

	g.mu.RLock()
	defer g.mu.RUnlock()

	ebitenutil.DebugPrintAt(screen, g.instructions, config.StageX, config.StageY-30)
	g.drawStage(screen)
	for i := range g.buttons {
		g.drawButton(screen, i)
	}

	status := fmt.Sprintf("Trial %d  %s", g.trial, formatDuration(time.Since(g.start)))
	if g.status != "" {
		status += "  " + g.status
	}
	ebitenutil.DebugPrintAt(screen, status, 12, 12)
	if g.lastErr != nil {
		ebitenutil.DebugPrintAt(screen, "Error: "+g.lastErr.Error(), 12, config.WindowHeight-24)
	}
}

func (g *Game) drawStage(screen *ebiten.Image) {
	x, y := float32(config.StageX), float32(config.StageY)
	vector.DrawFilledRect(screen, x, y, config.StageWidth, config.StageHeight, stageFill, false)
	vector.StrokeRect(screen, x, y, config.StageWidth, config.StageHeight, 2, stageBorder, false)

	for _, d := range g.field {
		clr := g.secondary
		if d.Class == dots.Primary {
			clr = g.primary
		}
		vector.DrawFilledCircle(screen, x+float32(d.Center.X), y+float32(d.Center.Y), float32(d.Radius), clr, true)
	}
}

func (g *Game) drawButton(screen *ebiten.Image, i int) {
	b := g.buttons[i]

	fill := b.fill
	switch {
	case !g.enabled:
		fill = dim(fill, 0.35)
	case g.pressed == i:
		fill = dim(fill, 0.7)
	case g.hovered == i:
		fill = dim(fill, 0.85)
	}
	vector.DrawFilledRect(screen, float32(b.x), float32(b.y), config.ButtonWidth, config.ButtonHeight, fill, false)
	vector.StrokeRect(screen, float32(b.x), float32(b.y), config.ButtonWidth, config.ButtonHeight, 2,
		color.RGBA{R: 150, G: 170, B: 200, A: 255}, false)

	label := b.label
	if g.sending == i {
		label = "Sending..."
	}
	textWidth := len(label) * 6 // debug font glyph width
	ebitenutil.DebugPrintAt(screen, label, b.x+(config.ButtonWidth-textWidth)/2, b.y+(config.ButtonHeight-16)/2)
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return config.WindowWidth, config.WindowHeight
}
