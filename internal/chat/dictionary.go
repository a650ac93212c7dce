package chat

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Dictionary is an immutable set of known location names. Matching is
// case-insensitive; results carry the canonical spelling.
type Dictionary struct {
	canonical map[string]string
	// byFirst holds upper-case names by leading byte, longest first.
	byFirst map[byte][]string
}

func NewDictionary(names []string) *Dictionary {
	d := &Dictionary{canonical: make(map[string]string, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		up := strings.ToUpper(n)
		if _, ok := d.canonical[up]; !ok {
			d.canonical[up] = n
		}
	}
	d.index()
	return d
}

// With returns a new dictionary holding both d's names and names.
func (d *Dictionary) With(names []string) *Dictionary {
	all := d.Names()
	all = append(all, names...)
	return NewDictionary(all)
}

func (d *Dictionary) index() {
	d.byFirst = make(map[byte][]string)
	for up := range d.canonical {
		d.byFirst[up[0]] = append(d.byFirst[up[0]], up)
	}
	for _, list := range d.byFirst {
		sort.Slice(list, func(i, j int) bool {
			if len(list[i]) != len(list[j]) {
				return len(list[i]) > len(list[j])
			}
			return list[i] < list[j]
		})
	}
}

func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.canonical)
}

// Names returns canonical names sorted.
func (d *Dictionary) Names() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.canonical))
	for _, n := range d.canonical {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (d *Dictionary) Canonical(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	n, ok := d.canonical[strings.ToUpper(strings.TrimSpace(name))]
	return n, ok
}

type span struct {
	start, end int
	name       string
}

// find scans upper-cased text for names on word boundaries, preferring
// the longest name at each position. Spans are in text order.
func (d *Dictionary) find(upper string) []span {
	if d.Len() == 0 {
		return nil
	}
	var out []span
	for i := 0; i < len(upper); {
		if !boundaryBefore(upper, i) {
			i++
			continue
		}
		matched := false
		for _, cand := range d.byFirst[upper[i]] {
			end := i + len(cand)
			if end > len(upper) || upper[i:end] != cand || !boundaryAfter(upper, end) {
				continue
			}
			out = append(out, span{start: i, end: end, name: d.canonical[cand]})
			i = end
			matched = true
			break
		}
		if !matched {
			_, size := utf8.DecodeRuneInString(upper[i:])
			i += size
		}
	}
	return out
}

// Find returns the distinct names mentioned in text in first-occurrence
// order.
func (d *Dictionary) Find(text string) []string {
	return mentions(d.find(strings.ToUpper(text)))
}

func mentions(spans []span) []string {
	if len(spans) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(spans))
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		if _, ok := seen[s.name]; ok {
			continue
		}
		seen[s.name] = struct{}{}
		out = append(out, s.name)
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	if r == utf8.RuneError {
		return true
	}
	return !isWordRune(r)
}

func boundaryAfter(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[end:])
	return !isWordRune(r)
}

// ReadNames reads one location name per line. Blank lines and lines
// starting with # are skipped.
func ReadNames(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func LoadNamesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadNames(f)
}
