package config

import (
	"fmt"

	"github.com/Subtalime/vintel-sub001/internal/color"
	"github.com/Subtalime/vintel-sub001/internal/model"
)

// BuildGradients validates every configured table and returns them keyed
// by the status they color. Tables without buckets are omitted.
func (e EngineConfig) BuildGradients() (map[model.Status]*color.Gradient, error) {
	tables := map[model.Status]GradientConfig{
		model.StatusAlarm:      e.Gradients.Alarm,
		model.StatusRequest:    e.Gradients.Request,
		model.StatusClear:      e.Gradients.Clear,
		model.StatusWasAlarmed: e.Gradients.WasAlarmed,
	}
	out := make(map[model.Status]*color.Gradient, len(tables))
	for status, gc := range tables {
		if len(gc.Buckets) == 0 {
			continue
		}
		g, err := gc.Build()
		if err != nil {
			return nil, fmt.Errorf("engine.gradients.%s: %w", status, err)
		}
		out[status] = g
	}
	if _, ok := out[model.StatusAlarm]; !ok {
		return nil, fmt.Errorf("engine.gradients.alarm: %w: no buckets", color.ErrInvalidGradient)
	}
	return out, nil
}

func (g GradientConfig) Build() (*color.Gradient, error) {
	buckets := make([]color.Bucket, 0, len(g.Buckets))
	for i, b := range g.Buckets {
		bg, err := color.ParseHex(b.Background)
		if err != nil {
			return nil, fmt.Errorf("%w: bucket %d background: %v", color.ErrInvalidGradient, i, err)
		}
		text, err := color.ParseHex(b.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: bucket %d text: %v", color.ErrInvalidGradient, i, err)
		}
		buckets = append(buckets, color.Bucket{Threshold: b.Threshold, Background: bg, Text: text})
	}
	return color.New(buckets, color.Mode(g.Mode))
}

func (c ColorPair) RGB() (background, text color.RGB, err error) {
	if background, err = color.ParseHex(c.Background); err != nil {
		return
	}
	text, err = color.ParseHex(c.Text)
	return
}
