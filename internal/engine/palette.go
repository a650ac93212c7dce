package engine

import (
	"time"

	"github.com/Subtalime/vintel-sub001/internal/color"
	"github.com/Subtalime/vintel-sub001/internal/config"
	"github.com/Subtalime/vintel-sub001/internal/model"
)

// palette is the validated color setup derived from one config.
type palette struct {
	gradients map[model.Status]*color.Gradient
	bg, text  color.RGB
}

func newPalette(cfg config.EngineConfig) (*palette, error) {
	gradients, err := cfg.BuildGradients()
	if err != nil {
		return nil, err
	}
	bg, text, err := cfg.DefaultColors.RGB()
	if err != nil {
		return nil, err
	}
	return &palette{gradients: gradients, bg: bg, text: text}, nil
}

// alarmFinal is how long a location stays ALARM before decaying.
func (p *palette) alarmFinal() time.Duration {
	return p.gradients[model.StatusAlarm].Final()
}

func (p *palette) resolve(st model.LocationState, now time.Time) (bg, text color.RGB) {
	alarm := p.gradients[model.StatusAlarm]
	switch st.Status {
	case model.StatusAlarm:
		return alarm.Resolve(now.Sub(st.LastAlarmTime))
	case model.StatusWasAlarmed:
		if g, ok := p.gradients[model.StatusWasAlarmed]; ok {
			return g.Resolve(now.Sub(st.LastAlarmTime) - alarm.Final())
		}
		return alarm.Resolve(now.Sub(st.LastAlarmTime))
	case model.StatusRequest, model.StatusClear:
		if g, ok := p.gradients[st.Status]; ok {
			return g.Resolve(now.Sub(st.LastChangeTime))
		}
	}
	return p.bg, p.text
}

func (p *palette) view(st model.LocationState, now time.Time) model.LocationView {
	bg, text := p.resolve(st, now)
	return model.LocationView{LocationState: st, Background: bg.Hex(), Text: text.Hex()}
}
