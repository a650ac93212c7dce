package engine

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Subtalime/vintel-sub001/internal/model"
)

// KnownKey is the cache key of the persisted reporter registry.
const KnownKey = "known"

// recordKnown remembers the author and where they reported from. Caller
// holds e.mu.
func (e *Engine) recordKnown(ev model.ChatEvent) {
	name := strings.TrimSpace(ev.Author)
	if name == "" {
		return
	}
	key := strings.ToUpper(name)
	k, ok := e.known[key]
	if !ok {
		k = &model.Known{Name: name}
		e.known[key] = k
	}
	if len(ev.MentionedLocations) > 0 {
		k.LastLocation = ev.MentionedLocations[0]
	}
}

// SetMonitor flags a known reporter for the presentation layer. It
// reports false when name is not known.
func (e *Engine) SetMonitor(name string, on bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.known[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return false
	}
	k.Monitor = on
	return true
}

// Known returns the reporter registry sorted by name.
func (e *Engine) Known() []model.Known {
	e.mu.RLock()
	out := make([]model.Known, 0, len(e.known))
	for _, k := range e.known {
		out = append(out, *k)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Persist writes the reporter registry to the cache with the configured
// keep-until-superseded TTL.
func (e *Engine) Persist(ctx context.Context) int {
	if e.cache == nil {
		return 0
	}
	known := e.Known()
	e.cache.Put(ctx, KnownKey, []byte(EncodeKnown(known)), e.config().Engine.PersistTTL)
	if e.logger != nil {
		e.logger.Info("persisted known reporters", "count", len(known))
	}
	return len(known)
}

// Restore loads the reporter registry from the cache. Malformed records
// are skipped one by one. Each restored last location becomes a tracked
// UNKNOWN location.
func (e *Engine) Restore(ctx context.Context) (restored, skipped int) {
	if e.cache == nil {
		return 0, 0
	}
	data, ok := e.cache.Get(ctx, KnownKey)
	if !ok {
		return 0, 0
	}
	known, skipped := DecodeKnown(string(data))
	e.mu.Lock()
	for _, k := range known {
		kk := k
		e.known[strings.ToUpper(k.Name)] = &kk
		if k.LastLocation != "" {
			e.track(k.LastLocation)
		}
	}
	e.mu.Unlock()
	if e.logger != nil {
		e.logger.Info("restored known reporters", "count", len(known), "skipped", skipped)
	}
	return len(known), skipped
}

// EncodeKnown renders name:monitor:lastLocation triples joined by commas.
// Names and locations are query-escaped so separators inside them
// survive.
func EncodeKnown(known []model.Known) string {
	parts := make([]string, 0, len(known))
	for _, k := range known {
		parts = append(parts, url.QueryEscape(k.Name)+":"+strconv.FormatBool(k.Monitor)+":"+url.QueryEscape(k.LastLocation))
	}
	return strings.Join(parts, ",")
}

// DecodeKnown parses EncodeKnown output, skipping records that do not
// have three fields, fail to unescape or have no name.
func DecodeKnown(s string) (known []model.Known, skipped int) {
	if strings.TrimSpace(s) == "" {
		return nil, 0
	}
	for _, rec := range strings.Split(s, ",") {
		fields := strings.Split(rec, ":")
		if len(fields) != 3 {
			skipped++
			continue
		}
		name, err := url.QueryUnescape(fields[0])
		if err != nil || strings.TrimSpace(name) == "" {
			skipped++
			continue
		}
		loc, err := url.QueryUnescape(fields[2])
		if err != nil {
			skipped++
			continue
		}
		known = append(known, model.Known{Name: name, Monitor: parseFlag(fields[1]), LastLocation: loc})
	}
	return known, skipped
}

// parseFlag fails closed: anything it does not recognize is false.
func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
