// Package chat turns raw EVE chat log lines into classified events.
package chat

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Subtalime/vintel-sub001/internal/config"
	"github.com/Subtalime/vintel-sub001/internal/model"
)

const timestampLayout = "2006.01.02 15:04:05"

var ErrMalformed = errors.New("malformed chat line")

var (
	reLine   = regexp.MustCompile(`^\[\s*(\d{4}\.\d{2}\.\d{2}\s+\d{2}:\d{2}:\d{2})\s*\]\s*([^>]*?)\s*>\s?(.*)$`)
	reMarkup = regexp.MustCompile(`<[^>]*>`)
)

// ParseError describes a line that could not be split into its fields.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	line := e.Line
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	return fmt.Sprintf("%s: %s: %q", ErrMalformed, e.Reason, line)
}

func (e *ParseError) Unwrap() error { return ErrMalformed }

// IsEmpty reports whether err is the parse error for a blank line.
func IsEmpty(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Reason == reasonEmpty
}

const reasonEmpty = "empty line"

// Rules is the immutable classification setup for one parse.
type Rules struct {
	Keywords          Keywords
	QuestionIsRequest bool
	Location          *time.Location
	ignore            map[string]struct{}
}

func NewRules(cfg config.ParserConfig) (Rules, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Rules{}, fmt.Errorf("parser timezone: %w", err)
	}
	r := Rules{
		Keywords:          NewKeywords(cfg.Keywords),
		QuestionIsRequest: cfg.QuestionIsRequest,
		Location:          loc,
		ignore:            make(map[string]struct{}, len(cfg.IgnoreAuthors)),
	}
	for _, a := range cfg.IgnoreAuthors {
		r.ignore[strings.ToUpper(strings.TrimSpace(a))] = struct{}{}
	}
	return r, nil
}

// Parse splits one raw log line and classifies it against dict.
func (r Rules) Parse(room, raw string, dict *Dictionary) (model.ChatEvent, error) {
	line := strings.TrimPrefix(raw, "\ufeff")
	line = strings.TrimSpace(line)
	if line == "" {
		return model.ChatEvent{}, &ParseError{Line: raw, Reason: reasonEmpty}
	}
	m := reLine.FindStringSubmatch(line)
	if m == nil {
		return model.ChatEvent{}, &ParseError{Line: raw, Reason: "no timestamp/author header"}
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	ts, err := time.ParseInLocation(timestampLayout, strings.Join(strings.Fields(m[1]), " "), loc)
	if err != nil {
		return model.ChatEvent{}, &ParseError{Line: raw, Reason: "bad timestamp"}
	}
	author := strings.TrimSpace(m[2])
	if author == "" {
		return model.ChatEvent{}, &ParseError{Line: raw, Reason: "missing author"}
	}
	ev := r.Classify(room, author, ts, m[3], dict)
	ev.RawText = raw
	return ev, nil
}

// Classify builds an event from already separated fields. Sources that
// carry their own metadata (REST, kafka JSON) use it directly.
func (r Rules) Classify(room, author string, ts time.Time, body string, dict *Dictionary) model.ChatEvent {
	plain := PlainText(body)
	upper := strings.ToUpper(plain)
	spans := dict.find(upper)
	ev := model.ChatEvent{
		Room:               room,
		Author:             author,
		RawText:            body,
		PlainText:          plain,
		UpperText:          upper,
		Timestamp:          ts.UTC(),
		MentionedLocations: mentions(spans),
	}
	ev.Intent = r.intent(ev, maskSpans(upper, spans))
	return ev
}

func (r Rules) intent(ev model.ChatEvent, masked string) model.Intent {
	if _, ok := r.ignore[strings.ToUpper(ev.Author)]; ok {
		return model.IntentIgnore
	}
	if len(ev.MentionedLocations) == 0 {
		return model.IntentIgnore
	}
	switch {
	case containsAny(masked, r.Keywords.Clear):
		return model.IntentClear
	case containsAny(masked, r.Keywords.Request):
		return model.IntentRequest
	case r.QuestionIsRequest && strings.HasSuffix(ev.PlainText, "?"):
		return model.IntentRequest
	case containsAny(masked, r.Keywords.Alarm):
		return model.IntentAlarm
	}
	return model.IntentUnknown
}

// maskSpans blanks out location names so a name such as "RED-X" does not
// trigger the RED keyword.
func maskSpans(upper string, spans []span) string {
	if len(spans) == 0 {
		return upper
	}
	b := []byte(upper)
	for _, s := range spans {
		for i := s.start; i < s.end; i++ {
			b[i] = ' '
		}
	}
	return string(b)
}

// PlainText strips client markup and entities and collapses whitespace.
func PlainText(body string) string {
	s := reMarkup.ReplaceAllString(body, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// Parser is the long-lived, concurrency-safe front of Rules. Its
// dictionary and rules can be swapped while sources keep parsing.
type Parser struct {
	rules  atomic.Pointer[Rules]
	dict   atomic.Pointer[Dictionary]
	logger *slog.Logger
}

func NewParser(cfg config.ParserConfig, dict *Dictionary, logger *slog.Logger) (*Parser, error) {
	rules, err := NewRules(cfg)
	if err != nil {
		return nil, err
	}
	if dict == nil {
		dict = NewDictionary(nil)
	}
	p := &Parser{logger: logger}
	p.rules.Store(&rules)
	p.dict.Store(dict)
	return p, nil
}

// SetRules swaps the classification setup; build it with NewRules.
func (p *Parser) SetRules(r Rules) {
	p.rules.Store(&r)
}

func (p *Parser) SetDictionary(d *Dictionary) {
	if d == nil {
		d = NewDictionary(nil)
	}
	p.dict.Store(d)
	if p.logger != nil {
		p.logger.Info("location dictionary updated", "names", d.Len())
	}
}

func (p *Parser) Dictionary() *Dictionary {
	return p.dict.Load()
}

// ParseLine parses raw from room. Malformed lines come back as a
// *ParseError; callers log and drop them.
func (p *Parser) ParseLine(room, raw string) (model.ChatEvent, error) {
	return p.rules.Load().Parse(room, raw, p.dict.Load())
}

func (p *Parser) Classify(room, author string, ts time.Time, body string) model.ChatEvent {
	return p.rules.Load().Classify(room, author, ts, body, p.dict.Load())
}
