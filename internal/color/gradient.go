// Package color resolves a time-decayed severity color from a gradient
// table of duration buckets.
package color

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidGradient = errors.New("invalid gradient")

type Mode string

const (
	ModeLinear  Mode = "linear"
	ModeStepped Mode = "stepped"
)

// RGB is a 24-bit color.
type RGB struct {
	R, G, B uint8
}

func ParseHex(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if len(s) != 7 || s[0] != '#' {
		return RGB{}, fmt.Errorf("color %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

func lerp(a, b RGB, f float64) RGB {
	ch := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*f))
	}
	return RGB{R: ch(a.R, b.R), G: ch(a.G, b.G), B: ch(a.B, b.B)}
}

// Bucket ends at Threshold (elapsed time since the reference event).
type Bucket struct {
	Threshold  time.Duration
	Background RGB
	Text       RGB
}

// Gradient is an immutable, validated bucket table. Bucket i spans
// [threshold(i-1), threshold(i)) and fades from its own colors to the
// colors of bucket i+1.
type Gradient struct {
	buckets []Bucket
	mode    Mode
}

func New(buckets []Bucket, mode Mode) (*Gradient, error) {
	if mode == "" {
		mode = ModeLinear
	}
	if mode != ModeLinear && mode != ModeStepped {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidGradient, mode)
	}
	if len(buckets) == 0 {
		return nil, fmt.Errorf("%w: no buckets", ErrInvalidGradient)
	}
	var prev time.Duration
	for i, b := range buckets {
		if b.Threshold <= prev {
			return nil, fmt.Errorf("%w: bucket %d threshold %s must be greater than %s", ErrInvalidGradient, i, b.Threshold, prev)
		}
		prev = b.Threshold
	}
	out := make([]Bucket, len(buckets))
	copy(out, buckets)
	return &Gradient{buckets: out, mode: mode}, nil
}

// Final is the largest threshold; past it the gradient is exhausted.
func (g *Gradient) Final() time.Duration {
	return g.buckets[len(g.buckets)-1].Threshold
}

func (g *Gradient) Mode() Mode {
	return g.mode
}

// Resolve returns background and text colors for the given elapsed time.
// Elapsed values past Final clamp to the last bucket's colors.
func (g *Gradient) Resolve(elapsed time.Duration) (background, text RGB) {
	if elapsed < 0 {
		elapsed = 0
	}
	last := len(g.buckets) - 1
	if elapsed >= g.buckets[last].Threshold {
		return g.buckets[last].Background, g.buckets[last].Text
	}
	var start time.Duration
	for i, b := range g.buckets {
		if elapsed >= b.Threshold {
			start = b.Threshold
			continue
		}
		if g.mode == ModeStepped || i == last {
			return b.Background, b.Text
		}
		next := g.buckets[i+1]
		span := b.Threshold - start
		f := float64(elapsed-start) / float64(span)
		return lerp(b.Background, next.Background, f), lerp(b.Text, next.Text, f)
	}
	return g.buckets[last].Background, g.buckets[last].Text
}
