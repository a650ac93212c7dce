package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Subtalime/vintel-sub001/internal/chat"
	"github.com/Subtalime/vintel-sub001/internal/metrics"
	"github.com/Subtalime/vintel-sub001/internal/model"
)

// Send blocks until the engine accepts ev or ctx is done. Chat events
// are never dropped for backpressure.
func Send(ctx context.Context, out chan<- model.ChatEvent, ev model.ChatEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Handler turns raw lines and JSON messages from any source into
// ChatEvents on Out.
type Handler struct {
	Parser *chat.Parser
	Out    chan<- model.ChatEvent
	Stats  *metrics.Store
	Logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Close refuses further deliveries and waits for sends already under
// way. Call it after the sources' context is cancelled; once it returns
// every event that will ever reach Out is already buffered there.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.inflight.Wait()
}

// HandleLine parses one chat log line. It reports whether an event was
// delivered.
func (h *Handler) HandleLine(ctx context.Context, source, room, line string) bool {
	ev, err := h.Parser.ParseLine(room, line)
	if err != nil {
		h.reject(source, room, line, err)
		return false
	}
	return h.deliver(ctx, source, ev)
}

var (
	ErrBadMessage = errors.New("bad message")
	// ErrStopped means the message was valid but ingest is shutting down.
	ErrStopped = errors.New("ingest stopped")
)

// Message is the JSON shape accepted by the network sources. Either Line
// carries a full log line, or Author, Timestamp and Text carry its parts.
type Message struct {
	Room      string    `json:"room"`
	Line      string    `json:"line,omitempty"`
	Author    string    `json:"author,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Text      string    `json:"text,omitempty"`
}

func (h *Handler) HandleMessage(ctx context.Context, source, defaultRoom string, msg Message) error {
	room := strings.TrimSpace(msg.Room)
	if room == "" {
		room = defaultRoom
	}
	if msg.Line != "" {
		ev, err := h.Parser.ParseLine(room, msg.Line)
		if err != nil {
			h.reject(source, room, msg.Line, err)
			return err
		}
		if !h.deliver(ctx, source, ev) {
			return ErrStopped
		}
		return nil
	}
	author := strings.TrimSpace(msg.Author)
	if author == "" || msg.Timestamp.IsZero() {
		metrics.IncChatLine(source, metrics.LineMalformed)
		h.Stats.Record(room, false)
		return errors.Join(ErrBadMessage, errors.New("author and timestamp required without line"))
	}
	ev := h.Parser.Classify(room, author, msg.Timestamp, msg.Text)
	if !h.deliver(ctx, source, ev) {
		return ErrStopped
	}
	return nil
}

// HandleJSON accepts one Message object or an array of them.
func (h *Handler) HandleJSON(ctx context.Context, source, defaultRoom string, body []byte) (accepted, failed int, err error) {
	trim := strings.TrimSpace(string(body))
	if trim == "" {
		return 0, 0, ErrBadMessage
	}
	var msgs []Message
	if trim[0] == '[' {
		if err := json.Unmarshal([]byte(trim), &msgs); err != nil {
			return 0, 0, errors.Join(ErrBadMessage, err)
		}
	} else {
		var msg Message
		if err := json.Unmarshal([]byte(trim), &msg); err != nil {
			return 0, 0, errors.Join(ErrBadMessage, err)
		}
		msgs = append(msgs, msg)
	}
	for _, msg := range msgs {
		if err := h.HandleMessage(ctx, source, defaultRoom, msg); err != nil {
			failed++
			continue
		}
		accepted++
	}
	return accepted, failed, nil
}

func (h *Handler) deliver(ctx context.Context, source string, ev model.ChatEvent) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.inflight.Add(1)
	h.mu.Unlock()
	defer h.inflight.Done()

	ev.Source = source
	metrics.IncChatLine(source, metrics.LineParsed)
	h.Stats.Record(ev.Room, true)
	return Send(ctx, h.Out, ev)
}

func (h *Handler) reject(source, room, line string, err error) {
	if chat.IsEmpty(err) {
		metrics.IncChatLine(source, metrics.LineEmpty)
		if h.Logger != nil {
			h.Logger.Debug("empty chat line", "source", source, "room", room)
		}
		return
	}
	metrics.IncChatLine(source, metrics.LineMalformed)
	h.Stats.Record(room, false)
	if h.Logger != nil {
		h.Logger.Warn("malformed chat line", "source", source, "room", room, "line", line, "err", err)
	}
}
