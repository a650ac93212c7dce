package engine

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Subtalime/vintel-sub001/internal/cache"
	"github.com/Subtalime/vintel-sub001/internal/config"
	"github.com/Subtalime/vintel-sub001/internal/model"
	"github.com/Subtalime/vintel-sub001/internal/topology"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine.DedupeWindow = 0
	cfg.Engine.Gradients.Alarm = config.GradientConfig{Mode: "linear", Buckets: []config.BucketConfig{
		{Threshold: 240 * time.Second, Background: "#FF0000", Text: "#FFFFFF"},
		{Threshold: 600 * time.Second, Background: "#FF9B0F", Text: "#000000"},
	}}
	return cfg
}

func newEngineForTest(t *testing.T, cfg *config.Config, c Cache, n Notifier) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, nil, c, n)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.now = func() time.Time { return t0 }
	return e
}

func event(intent model.Intent, at time.Time, locs ...string) model.ChatEvent {
	return model.ChatEvent{
		Room:               "delve.imperium",
		Author:             "Pilot",
		PlainText:          string(intent),
		Timestamp:          at,
		MentionedLocations: locs,
		Intent:             intent,
	}
}

type recorder struct {
	mu      sync.Mutex
	changes []model.StateChange
	onEvent func(model.StateChange)
}

func (r *recorder) LocationStateChanged(ch model.StateChange) {
	if r.onEvent != nil {
		r.onEvent(ch)
	}
	r.mu.Lock()
	r.changes = append(r.changes, ch)
	r.mu.Unlock()
}

func TestAlarmSetsState(t *testing.T) {
	e := newEngineForTest(t, testConfig(), nil, nil)
	changes := e.Process(event(model.IntentAlarm, t0, "Delve"))
	if len(changes) != 1 || changes[0].Status != model.StatusAlarm || changes[0].Previous != model.StatusUnknown {
		t.Fatalf("unexpected changes %+v", changes)
	}
	st, ok := e.State("delve")
	if !ok || st.Status != model.StatusAlarm || !st.LastAlarmTime.Equal(t0) || !st.LastChangeTime.Equal(t0) {
		t.Fatalf("unexpected state %+v", st)
	}
	if changes[0].Background != "#FF0000" {
		t.Fatalf("background %s", changes[0].Background)
	}
}

func TestStaleUpdateRejected(t *testing.T) {
	e := newEngineForTest(t, testConfig(), nil, nil)
	t1 := t0.Add(time.Minute)
	e.Process(event(model.IntentAlarm, t1, "Delve"))
	if changes := e.Process(event(model.IntentAlarm, t0, "Delve")); len(changes) != 0 {
		t.Fatalf("stale alarm produced changes: %+v", changes)
	}
	if changes := e.Process(event(model.IntentClear, t0, "Delve")); len(changes) != 0 {
		t.Fatalf("stale clear produced changes: %+v", changes)
	}
	st, _ := e.State("Delve")
	if st.Status != model.StatusAlarm || !st.LastAlarmTime.Equal(t1) {
		t.Fatalf("stale update rewound state: %+v", st)
	}
	if changes := e.Process(event(model.IntentClear, t1, "Delve")); len(changes) != 1 {
		t.Fatalf("equal timestamp must be accepted")
	}
}

func TestClearAndRequestKeepLastAlarmTime(t *testing.T) {
	e := newEngineForTest(t, testConfig(), nil, nil)
	e.Process(event(model.IntentAlarm, t0, "Delve"))
	e.Process(event(model.IntentClear, t0.Add(time.Minute), "Delve"))
	st, _ := e.State("Delve")
	if st.Status != model.StatusClear || !st.LastAlarmTime.Equal(t0) || !st.LastChangeTime.Equal(t0.Add(time.Minute)) {
		t.Fatalf("after clear: %+v", st)
	}
	e.Process(event(model.IntentRequest, t0.Add(2*time.Minute), "Delve"))
	st, _ = e.State("Delve")
	if st.Status != model.StatusRequest || !st.LastAlarmTime.Equal(t0) {
		t.Fatalf("after request: %+v", st)
	}
}

func TestDecayToWasAlarmed(t *testing.T) {
	rec := &recorder{}
	e := newEngineForTest(t, testConfig(), nil, rec)
	e.Process(event(model.IntentAlarm, t0, "Delve"))

	if changes := e.Tick(t0.Add(600 * time.Second)); len(changes) != 0 {
		t.Fatalf("decayed at the final threshold: %+v", changes)
	}
	changes := e.Tick(t0.Add(700 * time.Second))
	if len(changes) != 1 || changes[0].Status != model.StatusWasAlarmed || changes[0].Cause != "decay" {
		t.Fatalf("unexpected decay changes %+v", changes)
	}
	st, _ := e.State("Delve")
	if st.Status != model.StatusWasAlarmed || !st.LastAlarmTime.Equal(t0) || !st.LastChangeTime.Equal(t0) {
		t.Fatalf("unexpected state after decay %+v", st)
	}
	bg, text, ok := e.CurrentColor("Delve", t0.Add(700*time.Second))
	if !ok || bg != "#FF9B0F" || text != "#000000" {
		t.Fatalf("color %s/%s", bg, text)
	}
	if len(rec.changes) != 2 {
		t.Fatalf("notifier saw %d changes", len(rec.changes))
	}
	if changes := e.Tick(t0.Add(800 * time.Second)); len(changes) != 0 {
		t.Fatalf("decayed twice")
	}
}

func TestWasAlarmedOwnGradient(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.Gradients.WasAlarmed = config.GradientConfig{Buckets: []config.BucketConfig{
		{Threshold: 100 * time.Second, Background: "#AAAAAA", Text: "#000000"},
	}}
	e := newEngineForTest(t, cfg, nil, nil)
	e.Process(event(model.IntentAlarm, t0, "Delve"))
	e.Tick(t0.Add(700 * time.Second))
	bg, _, _ := e.CurrentColor("Delve", t0.Add(700*time.Second))
	if bg != "#AAAAAA" {
		t.Fatalf("background %s", bg)
	}
}

func TestUnknownAndIgnore(t *testing.T) {
	e := newEngineForTest(t, testConfig(), nil, nil)
	if changes := e.Process(event(model.IntentUnknown, t0, "Delve")); len(changes) != 0 {
		t.Fatalf("unknown intent changed state")
	}
	st, ok := e.State("Delve")
	if !ok || st.Status != model.StatusUnknown {
		t.Fatalf("expected tracked unknown, got %+v %v", st, ok)
	}
	e.Process(event(model.IntentIgnore, t0, "Querious"))
	if _, ok := e.State("Querious"); ok {
		t.Fatalf("ignored event tracked a location")
	}
	bg, text, ok := e.CurrentColor("Querious", t0)
	if ok || bg != "#FFFFFF" || text != "#000000" {
		t.Fatalf("untracked color %s/%s %v", bg, text, ok)
	}
}

func TestDuplicateEventIsNoOp(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.DedupeWindow = 10 * time.Minute
	rec := &recorder{}
	e := newEngineForTest(t, cfg, nil, rec)
	ev := event(model.IntentAlarm, t0, "Delve")
	e.Process(ev)
	if changes := e.Process(ev); changes != nil {
		t.Fatalf("duplicate produced changes")
	}
	if len(rec.changes) != 1 {
		t.Fatalf("notifier saw %d changes", len(rec.changes))
	}
}

func TestRequestPropagatesOverBridges(t *testing.T) {
	e := newEngineForTest(t, testConfig(), nil, nil)
	e.SetTopology(topology.ImportText("A <-> B\nA --> C\nA <-> D\nE --> A\nA <-> F\n"))
	e.Process(event(model.IntentAlarm, t0, "D"))
	e.Process(event(model.IntentClear, t0, "F"))
	changes := e.Process(event(model.IntentRequest, t0.Add(time.Minute), "A"))

	got := map[string]model.Status{}
	for _, ch := range changes {
		got[ch.Location] = ch.Status
	}
	want := map[string]model.Status{"A": model.StatusRequest, "B": model.StatusRequest, "C": model.StatusRequest, "F": model.StatusRequest}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v", got)
	}
	if st, _ := e.State("D"); st.Status != model.StatusAlarm {
		t.Fatalf("alarmed neighbor changed: %s", st.Status)
	}
	if _, ok := e.State("E"); ok {
		t.Fatalf("one-way edge into A must not propagate back")
	}
}

func TestPropagationCanBeDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.PropagateRequests = false
	e := newEngineForTest(t, cfg, nil, nil)
	e.SetTopology(topology.ImportText("A <-> B\n"))
	if changes := e.Process(event(model.IntentRequest, t0, "A")); len(changes) != 1 {
		t.Fatalf("expected only A, got %+v", changes)
	}
}

func TestRunDrainsQueuedEventsOnCancel(t *testing.T) {
	e := newEngineForTest(t, testConfig(), nil, nil)
	in := make(chan model.ChatEvent, 8)
	for i, loc := range []string{"A", "B", "C", "D", "E"} {
		in <- event(model.IntentAlarm, t0.Add(time.Duration(i)*time.Second), loc)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Run(ctx, in)
	if got := len(e.Snapshot(t0)); got != 5 {
		t.Fatalf("expected 5 tracked locations after drain, got %d", got)
	}
}

func TestRunDecaysOnTicker(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.DecayInterval = 5 * time.Millisecond
	e := newEngineForTest(t, cfg, nil, nil)
	var mu sync.Mutex
	now := t0
	e.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	in := make(chan model.ChatEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, in)
		close(done)
	}()
	in <- event(model.IntentAlarm, t0, "Delve")
	mu.Lock()
	now = t0.Add(700 * time.Second)
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, ok := e.State("Delve"); ok && st.Status == model.StatusWasAlarmed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("location never decayed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestNotifierRunsOutsideLock(t *testing.T) {
	rec := &recorder{}
	e := newEngineForTest(t, testConfig(), nil, rec)
	rec.onEvent = func(ch model.StateChange) {
		e.State(ch.Location)
		e.Snapshot(t0)
	}
	e.Process(event(model.IntentAlarm, t0, "Delve"))
	e.Tick(t0.Add(time.Hour))
	if len(rec.changes) != 2 {
		t.Fatalf("got %d changes", len(rec.changes))
	}
}

func TestResetForgetsLocations(t *testing.T) {
	e := newEngineForTest(t, testConfig(), nil, nil)
	e.Process(event(model.IntentAlarm, t0, "Delve"))
	e.Reset()
	if len(e.Snapshot(t0)) != 0 {
		t.Fatalf("reset kept locations")
	}
	if len(e.Known()) != 1 {
		t.Fatalf("reset dropped known reporters")
	}
}

func TestUpdateConfigRejectsInvalidGradient(t *testing.T) {
	e := newEngineForTest(t, testConfig(), nil, nil)
	bad := testConfig()
	bad.Engine.Gradients.Alarm.Buckets[1].Threshold = time.Second
	if err := e.UpdateConfig(bad); err == nil {
		t.Fatalf("expected error")
	}
	e.Process(event(model.IntentAlarm, t0, "Delve"))
	if changes := e.Tick(t0.Add(700 * time.Second)); len(changes) != 1 {
		t.Fatalf("previous config not kept")
	}
}

func TestPersistAndRestoreKnown(t *testing.T) {
	ctx := context.Background()
	store := cache.OpenMemory(nil)
	defer store.Close()

	e := newEngineForTest(t, testConfig(), store, nil)
	ev := event(model.IntentAlarm, t0, "1DQ1-A", "Delve")
	ev.Author = "Scout: One, Two"
	e.Process(ev)
	e.Process(event(model.IntentUnknown, t0, "Querious"))
	if !e.SetMonitor("scout: one, two", true) {
		t.Fatalf("set monitor on known reporter failed")
	}
	if e.SetMonitor("nobody", true) {
		t.Fatalf("set monitor on unknown reporter succeeded")
	}
	if n := e.Persist(ctx); n != 2 {
		t.Fatalf("persisted %d", n)
	}

	restored := newEngineForTest(t, testConfig(), store, nil)
	n, skipped := restored.Restore(ctx)
	if n != 2 || skipped != 0 {
		t.Fatalf("restored %d skipped %d", n, skipped)
	}
	want := []model.Known{
		{Name: "Pilot", LastLocation: "Querious"},
		{Name: "Scout: One, Two", Monitor: true, LastLocation: "1DQ1-A"},
	}
	if got := restored.Known(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v", got)
	}
	if st, ok := restored.State("1DQ1-A"); !ok || st.Status != model.StatusUnknown {
		t.Fatalf("restored location not tracked: %+v %v", st, ok)
	}
}

func TestDecodeKnownSkipsMalformed(t *testing.T) {
	known, skipped := DecodeKnown("a:true:Delve,broken,b:maybe:,:true:X,c%ZZ:true:Y,d:1:Fade:extra")
	want := []model.Known{
		{Name: "a", Monitor: true, LastLocation: "Delve"},
		{Name: "b"},
	}
	if !reflect.DeepEqual(known, want) {
		t.Fatalf("got %+v", known)
	}
	if skipped != 4 {
		t.Fatalf("skipped %d", skipped)
	}
}

func TestParseFlagFailsClosed(t *testing.T) {
	for in, want := range map[string]bool{
		"true": true, "1": true, "YES": true, "on": true,
		"false": false, "0": false, "__import__('os')": false, "": false,
	} {
		if got := parseFlag(in); got != want {
			t.Fatalf("parseFlag(%q) = %v", in, got)
		}
	}
}

func TestLineSetWindowAndLimit(t *testing.T) {
	s := newLineSet(2)
	a := event(model.IntentAlarm, t0, "Delve")
	if s.Seen(a, t0, time.Minute) {
		t.Fatalf("first sighting reported as seen")
	}
	if !s.Seen(a, t0.Add(30*time.Second), time.Minute) {
		t.Fatalf("repeat within window not seen")
	}
	if s.Seen(a, t0.Add(2*time.Minute), time.Minute) {
		t.Fatalf("repeat after window reported as seen")
	}
	b := event(model.IntentClear, t0, "Delve")
	c := event(model.IntentRequest, t0, "Delve")
	now := t0.Add(2 * time.Minute)
	s.Seen(b, now, time.Hour)
	s.Seen(c, now, time.Hour)
	if s.Len() != 2 {
		t.Fatalf("len %d, want limit 2", s.Len())
	}
	if s.Seen(a, now, time.Hour) {
		t.Fatalf("evicted line still remembered")
	}
}

func TestConcurrentReadersSeeConsistentStates(t *testing.T) {
	e := newEngineForTest(t, testConfig(), nil, nil)
	locs := []string{"Delve", "1DQ1-A", "8WA-Z6", "T5ZI-S"}

	var writers, readers sync.WaitGroup
	stop := make(chan struct{})
	for w, loc := range locs {
		w, loc := w, loc
		writers.Add(1)
		go func() {
			defer writers.Done()
			for i := 0; i < 200; i++ {
				at := t0.Add(time.Duration(i*len(locs)+w) * time.Second)
				intent := model.IntentAlarm
				if i%3 == 2 {
					intent = model.IntentClear
				}
				e.Process(event(intent, at, loc))
			}
		}()
	}
	writers.Add(1)
	go func() {
		defer writers.Done()
		for i := 0; i < 100; i++ {
			e.Tick(t0.Add(time.Duration(i) * 30 * time.Second))
		}
	}()

	check := func(st model.LocationState) {
		if st.LastAlarmTime.After(st.LastChangeTime) {
			t.Errorf("%s: alarm time after change time: %+v", st.Name, st)
		}
		if st.Status == model.StatusAlarm && !st.LastAlarmTime.Equal(st.LastChangeTime) {
			t.Errorf("%s: torn alarm state: %+v", st.Name, st)
		}
	}
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				now := t0.Add(time.Hour)
				for _, v := range e.Snapshot(now) {
					check(v.LocationState)
					if v.Background == "" || v.Text == "" {
						t.Errorf("%s: missing colors", v.Name)
					}
				}
				for _, loc := range locs {
					if bg, _, _ := e.CurrentColor(loc, now); bg == "" {
						t.Errorf("%s: no background", loc)
					}
				}
			}
		}()
	}

	writers.Wait()
	close(stop)
	readers.Wait()
	if got := len(e.Snapshot(t0)); got != len(locs) {
		t.Fatalf("tracked %d locations", got)
	}
}
