package chat

import (
	"sort"
	"strings"

	"github.com/Subtalime/vintel-sub001/internal/config"
)

// Keywords holds upper-cased trigger phrases per intent.
type Keywords struct {
	Clear   []string
	Request []string
	Alarm   []string
}

func NewKeywords(cfg config.KeywordsConfig) Keywords {
	return Keywords{
		Clear:   normalizeKeywords(cfg.Clear),
		Request: normalizeKeywords(cfg.Request),
		Alarm:   normalizeKeywords(cfg.Alarm),
	}
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.ToUpper(strings.Join(strings.Fields(k), " "))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// containsAny reports whether upper contains one of the keywords. Word
// boundaries are enforced only at keyword edges that are themselves word
// characters, so "+" matches inside "+5" while "RED" does not match
// "REDEEMER".
func containsAny(upper string, keywords []string) bool {
	for _, kw := range keywords {
		if containsKeyword(upper, kw) {
			return true
		}
	}
	return false
}

func containsKeyword(upper, kw string) bool {
	checkStart := startsWithWordRune(kw)
	checkEnd := endsWithWordRune(kw)
	for from := 0; from <= len(upper)-len(kw); {
		idx := strings.Index(upper[from:], kw)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(kw)
		if (!checkStart || boundaryBefore(upper, start)) && (!checkEnd || boundaryAfter(upper, end)) {
			return true
		}
		from = start + 1
	}
	return false
}

func startsWithWordRune(s string) bool {
	for _, r := range s {
		return isWordRune(r)
	}
	return false
}

func endsWithWordRune(s string) bool {
	var last rune
	for _, r := range s {
		last = r
	}
	return isWordRune(last)
}
