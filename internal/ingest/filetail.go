package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Subtalime/vintel-sub001/internal/cache"
	"github.com/Subtalime/vintel-sub001/internal/config"
)

const (
	SourceFileTail = "file_tail"

	readChunk   = 32 << 10
	maxLineSize = 1 << 20
	resumeTTL   = 7 * 24 * time.Hour
)

// Positions keeps how far each tailed file has been read, so a restart
// resumes instead of skipping or replaying lines.
type Positions interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration)
	Get(ctx context.Context, key string) ([]byte, bool)
}

func positionKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return cache.Key("tail", path)
}

// Chat log files are named <room>_<yyyymmdd>_<hhmmss>[_<charid>].txt.
var reLogName = regexp.MustCompile(`^(.*)_\d{8}_\d{6}(?:_\d+)?$`)

// RoomFromPath derives the chat room from a log file name.
func RoomFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if m := reLogName.FindStringSubmatch(base); m != nil && m[1] != "" {
		return m[1]
	}
	return base
}

// StartFileTail watches the configured glob patterns and tails every
// matching file. A file with a saved position resumes there. Otherwise
// files present on the first scan honor StartAtEnd and files that appear
// later are read from the beginning. positions may be nil.
func StartFileTail(ctx context.Context, cfg config.FileTailConfig, h *Handler, positions Positions, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	w := &tailWatcher{cfg: cfg, h: h, positions: positions, logger: logger, active: make(map[string]bool)}
	go w.run(ctx)
}

type tailWatcher struct {
	cfg       config.FileTailConfig
	h         *Handler
	positions Positions
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]bool
}

func (w *tailWatcher) run(ctx context.Context) {
	first := true
	for {
		for _, path := range w.scan() {
			w.mu.Lock()
			if w.active[path] {
				w.mu.Unlock()
				continue
			}
			w.active[path] = true
			w.mu.Unlock()

			startAtEnd := first && w.cfg.StartAtEnd
			if w.logger != nil {
				w.logger.Info("tailing chat log", "path", path, "room", RoomFromPath(path), "start_at_end", startAtEnd)
			}
			t := &fileTail{
				path:      path,
				room:      RoomFromPath(path),
				poll:      w.cfg.PollInterval,
				h:         w.h,
				positions: w.positions,
				key:       positionKey(path),
				logger:    w.logger,
			}
			path := path
			go func() {
				defer w.forget(path)
				t.run(ctx, startAtEnd)
			}()
		}
		first = false
		if !BackoffSleep(ctx, w.cfg.RescanEvery) {
			return
		}
	}
}

func (w *tailWatcher) scan() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range w.cfg.Files {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			if w.logger != nil {
				w.logger.Warn("bad file tail pattern", "pattern", pattern, "err", err)
			}
			continue
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			if info, err := os.Stat(m); err != nil || info.IsDir() {
				continue
			}
			seen[m] = true
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)
	return paths
}

func (w *tailWatcher) forget(path string) {
	w.mu.Lock()
	delete(w.active, path)
	w.mu.Unlock()
}

type fileTail struct {
	path      string
	room      string
	poll      time.Duration
	h         *Handler
	positions Positions
	key       string
	logger    *slog.Logger

	file *os.File
	// offset is how far the file has been read, done how far its lines
	// have been handed on. Only done is persisted.
	offset   int64
	done     int64
	saved    int64
	dec      *lineDecoder
	inHeader bool
}

func (t *fileTail) run(ctx context.Context, startAtEnd bool) {
	defer func() {
		t.close()
		t.savePosition(context.Background())
	}()
	buf := make([]byte, readChunk)
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if t.file == nil {
			err := t.open(startAtEnd, first)
			if errors.Is(err, os.ErrNotExist) {
				if t.logger != nil {
					t.logger.Info("chat log gone", "path", t.path)
				}
				return
			}
			if err != nil {
				if t.logger != nil {
					t.logger.Warn("tail open failed", "path", t.path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			startAtEnd = false
			first = false
		}

		n, err := t.file.Read(buf)
		if n > 0 {
			t.offset += int64(n)
			for _, line := range t.dec.feed(buf[:n]) {
				if !t.handle(ctx, line.text) {
					return
				}
				t.done += int64(line.size)
			}
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			if t.logger != nil {
				t.logger.Warn("tail read error", "path", t.path, "err", err)
			}
			t.close()
			continue
		}
		t.savePosition(ctx)
		if !BackoffSleep(ctx, t.poll) {
			return
		}
		info, statErr := os.Stat(t.path)
		if statErr != nil {
			continue
		}
		if info.Size() < t.offset {
			if t.logger != nil {
				t.logger.Info("chat log truncated, rereading", "path", t.path)
			}
			t.close()
		}
	}
}

func (t *fileTail) open(atEnd, resume bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	head := make([]byte, 4)
	n, _ := f.ReadAt(head, 0)
	dec := &lineDecoder{}
	var pos int64
	if n >= 3 {
		enc, skip := detectEncoding(head[:n])
		dec.enc = &enc
		pos = int64(skip)
	}
	inHeader := !atEnd
	saved := int64(-1)
	if at, ok := t.resumeAt(info.Size()); resume && ok {
		pos, inHeader, saved = at, false, at
		if t.logger != nil {
			t.logger.Info("resuming chat log", "path", t.path, "offset", at)
		}
	} else if atEnd {
		pos = info.Size()
	}
	if _, err = f.Seek(pos, io.SeekStart); err != nil {
		f.Close()
		return err
	}
	t.file = f
	t.offset = pos
	t.done = pos
	t.saved = saved
	t.dec = dec
	t.inHeader = inHeader
	return nil
}

func (t *fileTail) resumeAt(size int64) (int64, bool) {
	if t.positions == nil {
		return 0, false
	}
	data, ok := t.positions.Get(context.Background(), t.key)
	if !ok {
		return 0, false
	}
	pos, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil || pos <= 0 || pos > size {
		return 0, false
	}
	return pos, true
}

// savePosition records the end of the last line handed on.
func (t *fileTail) savePosition(ctx context.Context) {
	if t.positions == nil || t.dec == nil || t.done == t.saved {
		return
	}
	t.positions.Put(ctx, t.key, []byte(strconv.FormatInt(t.done, 10)), resumeTTL)
	t.saved = t.done
}

func (t *fileTail) close() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
}

// handle skips the banner block that opens every chat log before the
// first timestamped line. It reports false when the line could not be
// handed on because ctx is done.
func (t *fileTail) handle(ctx context.Context, line string) bool {
	if t.inHeader {
		if !strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(line, "\ufeff")), "[") {
			return true
		}
		t.inHeader = false
	}
	if t.h.HandleLine(ctx, SourceFileTail, t.room, line) {
		return true
	}
	return ctx.Err() == nil
}

// textEncoding is a chat log encoding. wide means UTF-16, where a line
// ends at an aligned LF code unit.
type textEncoding struct {
	dec       transform.Transformer
	wide      bool
	bigEndian bool
}

// detectEncoding picks the encoding from the first bytes of a file and
// returns how many BOM bytes to skip. Without a BOM, a zero high byte in
// the first code unit means UTF-16LE.
func detectEncoding(head []byte) (textEncoding, int) {
	switch {
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE}):
		return utf16Encoding(unicode.LittleEndian), 2
	case bytes.HasPrefix(head, []byte{0xFE, 0xFF}):
		return utf16Encoding(unicode.BigEndian), 2
	case bytes.HasPrefix(head, []byte{0xEF, 0xBB, 0xBF}):
		return textEncoding{dec: unicode.UTF8.NewDecoder()}, 3
	case len(head) >= 2 && head[0] != 0 && head[1] == 0:
		return utf16Encoding(unicode.LittleEndian), 0
	default:
		return textEncoding{dec: unicode.UTF8.NewDecoder()}, 0
	}
}

func utf16Encoding(e unicode.Endianness) textEncoding {
	return textEncoding{
		dec:       unicode.UTF16(e, unicode.IgnoreBOM).NewDecoder(),
		wide:      true,
		bigEndian: e == unicode.BigEndian,
	}
}

// lineEnd returns the length of the first complete line in b, newline
// included, scanning from from. It returns -1 when b holds no newline.
func (e textEncoding) lineEnd(b []byte, from int) int {
	if !e.wide {
		if i := bytes.IndexByte(b[from:], '\n'); i >= 0 {
			return from + i + 1
		}
		return -1
	}
	for i := from; i+1 < len(b); i += 2 {
		if e.bigEndian && b[i] == 0 && b[i+1] == '\n' || !e.bigEndian && b[i] == '\n' && b[i+1] == 0 {
			return i + 2
		}
	}
	return -1
}

// rawLine is one decoded line and the number of file bytes it used.
type rawLine struct {
	text string
	size int
}

// lineDecoder splits raw file bytes into lines before decoding them, so
// every line knows its encoded size. Partial lines are carried over.
type lineDecoder struct {
	enc  *textEncoding
	raw  []byte
	scan int
	// BOM bytes consumed ahead of the first line
	lead int
}

func (d *lineDecoder) feed(p []byte) []rawLine {
	d.raw = append(d.raw, p...)
	if d.enc == nil {
		if len(d.raw) < 3 {
			return nil
		}
		enc, skip := detectEncoding(d.raw)
		d.enc = &enc
		d.raw = d.raw[skip:]
		d.lead = skip
	}
	var lines []rawLine
	for {
		n := d.enc.lineEnd(d.raw, d.scan)
		if n < 0 {
			break
		}
		lines = append(lines, d.take(n))
	}
	d.scan = len(d.raw)
	if d.enc.wide {
		d.scan &^= 1
	}
	if len(d.raw) > maxLineSize {
		lines = append(lines, d.take(d.scan))
	}
	return lines
}

func (d *lineDecoder) take(n int) rawLine {
	text, _, err := transform.Bytes(d.enc.dec, d.raw[:n])
	if err != nil {
		text = bytes.ToValidUTF8(d.raw[:n], []byte("\ufffd"))
	}
	line := rawLine{text: strings.TrimRight(string(text), "\r\n"), size: n + d.lead}
	d.raw = d.raw[n:]
	d.scan = 0
	d.lead = 0
	return line
}
