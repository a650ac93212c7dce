// Package engine keeps per-location alarm state fed by chat events and a
// decay ticker, and resolves the display color for any location.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Subtalime/vintel-sub001/internal/config"
	"github.com/Subtalime/vintel-sub001/internal/metrics"
	"github.com/Subtalime/vintel-sub001/internal/model"
	"github.com/Subtalime/vintel-sub001/internal/topology"
)

const staleLogCooldown = time.Minute

// Notifier receives every accepted state change after the engine has
// released its lock.
type Notifier interface {
	LocationStateChanged(change model.StateChange)
}

// Cache is the part of the TTL cache the engine persists through.
type Cache interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration)
	Get(ctx context.Context, key string) ([]byte, bool)
}

type Engine struct {
	logger   *slog.Logger
	cache    Cache
	notifier Notifier
	cfg      atomic.Value
	palette  atomic.Pointer[palette]
	now      func() time.Time

	mu        sync.RWMutex
	locations map[string]*model.LocationState
	known     map[string]*model.Known
	graph     *topology.Graph

	// last loud stale-update log per location
	staleLogged map[string]time.Time
	deDupe      *lineSet
}

// NewEngine validates the color setup in cfg. cache and notifier may be
// nil.
func NewEngine(cfg *config.Config, logger *slog.Logger, cache Cache, notifier Notifier) (*Engine, error) {
	p, err := newPalette(cfg.Engine)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		logger:      logger,
		cache:       cache,
		notifier:    notifier,
		now:         time.Now,
		locations:   make(map[string]*model.LocationState),
		known:       make(map[string]*model.Known),
		staleLogged: make(map[string]time.Time),
		deDupe:      newLineSet(0),
	}
	e.cfg.Store(cfg)
	e.palette.Store(p)
	return e, nil
}

// UpdateConfig swaps gradients, intervals and flags. An invalid config is
// rejected and the previous one stays active.
func (e *Engine) UpdateConfig(cfg *config.Config) error {
	p, err := newPalette(cfg.Engine)
	if err != nil {
		return err
	}
	e.cfg.Store(cfg)
	e.palette.Store(p)
	return nil
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Run processes events and decay ticks until ctx is cancelled or in is
// closed. On cancellation events already queued in in are processed
// before Run returns.
func (e *Engine) Run(ctx context.Context, in <-chan model.ChatEvent) {
	interval := e.config().Engine.DecayInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-in:
			if !ok {
				return
			}
			e.Process(ev)
		case <-ticker.C:
			e.Tick(e.now())
			if next := e.config().Engine.DecayInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-ctx.Done():
			e.drain(in)
			return
		}
	}
}

func (e *Engine) drain(in <-chan model.ChatEvent) {
	n := 0
	for {
		select {
		case ev, ok := <-in:
			if !ok {
				e.logDrained(n)
				return
			}
			e.Process(ev)
			n++
		default:
			e.logDrained(n)
			return
		}
	}
}

func (e *Engine) logDrained(n int) {
	if e.logger != nil && n > 0 {
		e.logger.Info("processed queued events on shutdown", "count", n)
	}
}

// Process applies one chat event and returns the state changes it caused.
func (e *Engine) Process(ev model.ChatEvent) []model.StateChange {
	metrics.IncEvent(string(ev.Intent))
	if ev.Intent == model.IntentIgnore || ev.Intent == "" {
		return nil
	}
	cfg := e.config()
	if e.isDuplicate(ev, cfg.Engine.DedupeWindow) {
		metrics.IncDuplicate()
		return nil
	}
	p := e.palette.Load()
	now := e.now()

	var changes []model.StateChange
	e.mu.Lock()
	e.recordKnown(ev)
	switch ev.Intent {
	case model.IntentUnknown:
		for _, name := range ev.MentionedLocations {
			e.track(name)
		}
	case model.IntentAlarm, model.IntentClear, model.IntentRequest:
		status := intentStatus(ev.Intent)
		cause := fmt.Sprintf("%s in %s", ev.Author, ev.Room)
		for _, name := range ev.MentionedLocations {
			if ch, ok := e.apply(p, name, status, ev.Timestamp, now, cause); ok {
				changes = append(changes, ch)
			}
		}
		if status == model.StatusRequest && cfg.Engine.PropagateRequests {
			changes = append(changes, e.propagate(p, ev, now)...)
		}
	}
	tracked := len(e.locations)
	e.mu.Unlock()

	metrics.SetTracked(tracked)
	e.notify(changes)
	return changes
}

func intentStatus(i model.Intent) model.Status {
	switch i {
	case model.IntentAlarm:
		return model.StatusAlarm
	case model.IntentClear:
		return model.StatusClear
	case model.IntentRequest:
		return model.StatusRequest
	}
	return model.StatusUnknown
}

// track returns the state for name, creating it as UNKNOWN. Caller holds
// e.mu.
func (e *Engine) track(name string) *model.LocationState {
	key := strings.ToUpper(name)
	if st, ok := e.locations[key]; ok {
		return st
	}
	st := &model.LocationState{Name: name, Status: model.StatusUnknown}
	e.locations[key] = st
	return st
}

// apply moves name to status at ts unless ts is older than the last
// change. Caller holds e.mu.
func (e *Engine) apply(p *palette, name string, status model.Status, ts, now time.Time, cause string) (model.StateChange, bool) {
	st := e.track(name)
	if ts.Before(st.LastChangeTime) {
		e.logStale(st, status, ts)
		return model.StateChange{}, false
	}
	prev := st.Status
	st.Status = status
	st.LastChangeTime = ts
	if status == model.StatusAlarm {
		st.LastAlarmTime = ts
	}
	bg, text := p.resolve(*st, now)
	return model.StateChange{
		Location:   st.Name,
		Previous:   prev,
		Status:     status,
		Background: bg.Hex(),
		Text:       text.Hex(),
		At:         ts,
		Cause:      cause,
	}, true
}

// propagate marks quiet bridge neighbors of requested locations as
// REQUEST. Caller holds e.mu.
func (e *Engine) propagate(p *palette, ev model.ChatEvent, now time.Time) []model.StateChange {
	if e.graph == nil {
		return nil
	}
	mentioned := make(map[string]struct{}, len(ev.MentionedLocations))
	for _, name := range ev.MentionedLocations {
		mentioned[strings.ToUpper(name)] = struct{}{}
	}
	var out []model.StateChange
	for _, name := range ev.MentionedLocations {
		for _, n := range e.graph.Neighbors(name) {
			key := strings.ToUpper(n)
			if _, ok := mentioned[key]; ok {
				continue
			}
			if st, ok := e.locations[key]; ok && st.Status != model.StatusUnknown && st.Status != model.StatusClear {
				continue
			}
			mentioned[key] = struct{}{}
			if ch, ok := e.apply(p, n, model.StatusRequest, ev.Timestamp, now, "bridge from "+name); ok {
				out = append(out, ch)
			}
		}
	}
	return out
}

func (e *Engine) logStale(st *model.LocationState, status model.Status, ts time.Time) {
	metrics.IncStale()
	if e.logger == nil {
		return
	}
	attrs := []any{"location", st.Name, "status", status, "event_time", ts, "last_change", st.LastChangeTime}
	key := strings.ToUpper(st.Name)
	if now := e.now(); now.Sub(e.staleLogged[key]) >= staleLogCooldown {
		e.staleLogged[key] = now
		e.logger.Info("rejected stale location update", attrs...)
		return
	}
	e.logger.Debug("rejected stale location update", attrs...)
}

// Tick decays every ALARM location whose alarm is older than the final
// alarm threshold into WAS_ALARMED.
func (e *Engine) Tick(now time.Time) []model.StateChange {
	start := time.Now()
	p := e.palette.Load()
	final := p.alarmFinal()

	var changes []model.StateChange
	e.mu.Lock()
	for _, st := range e.locations {
		if st.Status != model.StatusAlarm || now.Sub(st.LastAlarmTime) <= final {
			continue
		}
		st.Status = model.StatusWasAlarmed
		bg, text := p.resolve(*st, now)
		changes = append(changes, model.StateChange{
			Location:   st.Name,
			Previous:   model.StatusAlarm,
			Status:     model.StatusWasAlarmed,
			Background: bg.Hex(),
			Text:       text.Hex(),
			At:         now,
			Cause:      "decay",
		})
	}
	e.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].Location < changes[j].Location })
	metrics.ObserveTick(time.Since(start))
	e.notify(changes)
	return changes
}

func (e *Engine) notify(changes []model.StateChange) {
	for _, ch := range changes {
		metrics.IncStateChange(string(ch.Status))
		if e.logger != nil {
			e.logger.Debug("location state changed", "location", ch.Location, "previous", ch.Previous, "status", ch.Status, "cause", ch.Cause)
		}
		if e.notifier != nil {
			e.notifier.LocationStateChanged(ch)
		}
	}
}

// Snapshot returns every tracked location with colors resolved at now,
// sorted by name.
func (e *Engine) Snapshot(now time.Time) []model.LocationView {
	p := e.palette.Load()
	e.mu.RLock()
	out := make([]model.LocationView, 0, len(e.locations))
	for _, st := range e.locations {
		out = append(out, p.view(*st, now))
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) State(name string) (model.LocationState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.locations[strings.ToUpper(name)]
	if !ok {
		return model.LocationState{}, false
	}
	return *st, true
}

// CurrentColor resolves the colors for name at now. Untracked locations
// get the default colors and ok=false.
func (e *Engine) CurrentColor(name string, now time.Time) (background, text string, ok bool) {
	p := e.palette.Load()
	st, ok := e.State(name)
	if !ok {
		return p.bg.Hex(), p.text.Hex(), false
	}
	bg, fg := p.resolve(st, now)
	return bg.Hex(), fg.Hex(), true
}

// View is State plus resolved colors.
func (e *Engine) View(name string, now time.Time) (model.LocationView, bool) {
	st, ok := e.State(name)
	if !ok {
		return model.LocationView{}, false
	}
	return e.palette.Load().view(st, now), true
}

// SetTopology replaces the bridge graph used for request propagation.
func (e *Engine) SetTopology(edges []model.TopologyEdge) {
	g := topology.NewGraph(edges)
	e.mu.Lock()
	e.graph = g
	e.mu.Unlock()
	if e.logger != nil {
		e.logger.Info("topology updated", "edges", g.Len(), "locations", len(g.Locations()))
	}
}

func (e *Engine) Topology() []model.TopologyEdge {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph.Edges()
}

// Reset forgets every tracked location and the dedupe history. Known
// reporters and the topology are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.locations = make(map[string]*model.LocationState)
	e.staleLogged = make(map[string]time.Time)
	e.deDupe = newLineSet(0)
	e.mu.Unlock()
	metrics.SetTracked(0)
}

func (e *Engine) isDuplicate(ev model.ChatEvent, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	e.mu.RLock()
	d := e.deDupe
	e.mu.RUnlock()
	return d.Seen(ev, e.now(), window)
}
