package trial

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/iburimskiy/stroop-dots/internal/config"
)

var (
	// ErrUnknownWireValue is returned for response values that map to no choice.
	ErrUnknownWireValue = errors.New("unknown response value")
	// ErrInvalidState is returned for a transmitted state that is not a ratio.
	ErrInvalidState = errors.New("invalid state")
)

// Choice is the participant's answer.
type Choice int

const (
	Blue Choice = iota
	Yellow
)

func (c Choice) String() string {
	switch c {
	case Blue:
		return "blue"
	case Yellow:
		return "yellow"
	}
	return fmt.Sprintf("Choice(%d)", int(c))
}

// Responses maps choices to the values sent to and received from the
// server. Every encode and decode goes through it.
type Responses struct {
	blue, yellow string
}

// NewResponses builds the mapping from config.
func NewResponses(cfg config.ResponseConfig) Responses {
	return Responses{blue: cfg.Blue, yellow: cfg.Yellow}
}

// Wire returns the value reported for c.
func (r Responses) Wire(c Choice) string {
	if c == Yellow {
		return r.yellow
	}
	return r.blue
}

// Decode maps a reported value back to a choice.
func (r Responses) Decode(v string) (Choice, error) {
	switch strings.TrimSpace(v) {
	case r.blue:
		return Blue, nil
	case r.yellow:
		return Yellow, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWireValue, v)
}

// Ratio decodes a transmitted asocial state. A response value stands for an
// all-blue or all-yellow field; anything else must be a blue ratio.
func (r Responses) Ratio(contents string) (float64, error) {
	c, err := r.Decode(contents)
	if err != nil {
		return ParseRatio(contents)
	}
	if c == Blue {
		return 1, nil
	}
	return 0, nil
}

// ParseRatio decodes a transmitted state: the fraction of blue dots as a
// decimal in [0,1].
func ParseRatio(contents string) (float64, error) {
	r, err := strconv.ParseFloat(strings.TrimSpace(contents), 64)
	if err != nil || math.IsNaN(r) || r < 0 || r > 1 {
		return 0, fmt.Errorf("%w: %q is not a ratio in [0,1]", ErrInvalidState, contents)
	}
	return r, nil
}

// Majority returns the correct answer for a blue ratio, and false when the
// colors are tied.
func Majority(ratio float64, total int) (Choice, bool) {
	blue := int(math.Round(ratio * float64(total)))
	switch {
	case 2*blue > total:
		return Blue, true
	case 2*blue < total:
		return Yellow, true
	}
	return 0, false
}
