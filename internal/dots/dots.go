// Package dots generates randomized fields of non-overlapping circles split
// between two color classes.
package dots

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrInvalidConfiguration is returned for inputs no field can satisfy.
	ErrInvalidConfiguration = errors.New("invalid dot field configuration")
	// ErrLayoutUnsatisfiable is returned when the attempt budget runs out
	// before every dot has been placed.
	ErrLayoutUnsatisfiable = errors.New("dot layout unsatisfiable")
)

// DefaultMaxAttempts is the per-dot placement budget used when none is set.
const DefaultMaxAttempts = 10000

// Class is the color class of a dot.
type Class uint8

const (
	Primary Class = iota
	Secondary
)

func (c Class) String() string {
	switch c {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// MarshalText lets fields print by name in YAML and JSON.
func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Point is a position on the stimulus surface.
type Point struct{ X, Y float64 }

// Dist returns the Euclidean distance between two points.
func (p Point) Dist(o Point) float64 { return math.Hypot(p.X-o.X, p.Y-o.Y) }

// Dot is one placed circle.
type Dot struct {
	Center Point   `yaml:"center" json:"center"`
	Radius float64 `yaml:"radius" json:"radius"`
	Class  Class   `yaml:"class" json:"class"`
}

// Overlaps reports whether two dots are closer than the sum of their radii.
func (d Dot) Overlaps(o Dot) bool {
	return d.Center.Dist(o.Center) < d.Radius+o.Radius
}

// Field is the ordered set of dots shown in one trial.
type Field []Dot

// Counts returns how many dots belong to each class.
func (f Field) Counts() (primary, secondary int) {
	for _, d := range f {
		if d.Class == Primary {
			primary++
		} else {
			secondary++
		}
	}
	return primary, secondary
}

// Classes returns the class of each dot in placement order.
func (f Field) Classes() []Class {
	out := make([]Class, len(f))
	for i, d := range f {
		out[i] = d.Class
	}
	return out
}

// Overlapping returns the index pairs of any overlapping dots.
func (f Field) Overlapping() [][2]int {
	var out [][2]int
	for i := range f {
		for j := i + 1; j < len(f); j++ {
			if f[i].Overlaps(f[j]) {
				out = append(out, [2]int{i, j})
			}
		}
	}
	return out
}

// Bounds is the size of the surface dots are placed on; the origin is the
// top-left corner.
type Bounds struct{ Width, Height float64 }

// RadiusRange is the closed interval radii are drawn from.
type RadiusRange struct{ Min, Max float64 }

// Params describes one field.
type Params struct {
	Ratio  float64 // fraction of Primary dots, in [0,1]
	Total  int
	Bounds Bounds
	Radius RadiusRange
}

// PrimaryCount returns round(Ratio*Total).
func (p Params) PrimaryCount() int {
	return int(math.Round(p.Ratio * float64(p.Total)))
}

// Validate reports ErrInvalidConfiguration for unusable parameters.
func (p Params) Validate() error {
	switch {
	case math.IsNaN(p.Ratio) || p.Ratio < 0 || p.Ratio > 1:
		return fmt.Errorf("%w: ratio %v outside [0,1]", ErrInvalidConfiguration, p.Ratio)
	case p.Total <= 0:
		return fmt.Errorf("%w: total %d must be positive", ErrInvalidConfiguration, p.Total)
	case p.Radius.Min < 0 || p.Radius.Min > p.Radius.Max:
		return fmt.Errorf("%w: radius range [%v,%v]", ErrInvalidConfiguration, p.Radius.Min, p.Radius.Max)
	case 2*p.Radius.Min > p.Bounds.Width || 2*p.Radius.Min > p.Bounds.Height:
		return fmt.Errorf("%w: bounds %vx%v cannot hold a dot of radius %v",
			ErrInvalidConfiguration, p.Bounds.Width, p.Bounds.Height, p.Radius.Min)
	}
	return nil
}

// Generator produces dot fields from a random source. It is not safe for
// concurrent use.
type Generator struct {
	rng         *rand.Rand
	maxAttempts int
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxAttempts sets the per-dot placement budget.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// NewGenerator returns a generator drawing from src.
func NewGenerator(src rand.Source, opts ...Option) *Generator {
	g := &Generator{
		rng:         rand.New(src),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate places p.Total non-overlapping dots, round(p.Ratio*p.Total) of
// them Primary. Colors are shuffled before any position is drawn, so the
// k-th placed dot takes the k-th shuffled label.
func (g *Generator) Generate(p Params) (Field, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	labels := g.labels(p.PrimaryCount(), p.Total)

	field := make(Field, 0, p.Total)
	for len(field) < p.Total {
		dot, ok := g.place(field, p)
		if !ok {
			return nil, fmt.Errorf("%w: placed %d of %d dots within %d attempts",
				ErrLayoutUnsatisfiable, len(field), p.Total, g.maxAttempts)
		}
		dot.Class = labels[len(field)]
		field = append(field, dot)
	}
	return field, nil
}

// labels returns primary Primary labels and total-primary Secondary labels
// in Fisher-Yates shuffled order.
func (g *Generator) labels(primary, total int) []Class {
	out := make([]Class, total)
	for i := primary; i < total; i++ {
		out[i] = Secondary
	}
	for i := len(out) - 1; i > 0; i-- {
		j := g.rng.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (g *Generator) place(field Field, p Params) (Dot, bool) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		r := p.Radius.Min + g.rng.Float64()*(p.Radius.Max-p.Radius.Min)
		if 2*r > p.Bounds.Width || 2*r > p.Bounds.Height {
			continue
		}
		cand := Dot{
			Center: Point{
				X: r + g.rng.Float64()*(p.Bounds.Width-2*r),
				Y: r + g.rng.Float64()*(p.Bounds.Height-2*r),
			},
			Radius: r,
		}
		if !overlapsAny(field, cand) {
			return cand, true
		}
	}
	return Dot{}, false
}

func overlapsAny(field Field, cand Dot) bool {
	for _, d := range field {
		if d.Overlaps(cand) {
			return true
		}
	}
	return false
}
