// Package topology imports jump bridge lists from loosely formatted text
// and exports them back in the compact three-column form.
package topology

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Subtalime/vintel-sub001/internal/model"
)

const (
	FormatNone    = "none"
	FormatVerbose = "verbose"
	FormatCompact = "compact"

	minVerboseColumns = 13
)

// Verbose column offsets.
const (
	colRegion   = 0
	colFrom     = 1
	colFromSep  = 2
	colTo       = 4
	colToSep    = 5
	colStatus   = 7
	colDistance = 8
)

var compactDirections = map[string]struct {
	dir     model.Direction
	reverse bool
}{
	"<->": {model.TwoWay, false},
	"<>":  {model.TwoWay, false},
	"-->": {model.OneWay, false},
	"->":  {model.OneWay, false},
	"<--": {model.OneWay, true},
	"<-":  {model.OneWay, true},
}

// Result is one import: the edges, which form was detected and how many
// candidate lines were dropped.
type Result struct {
	Edges   []model.TopologyEdge
	Format  string
	Skipped int
}

type Importer struct {
	Logger *slog.Logger
}

// ImportText detects the input form and returns the edges it could read.
// Text with nothing importable gives an empty result, not an error.
func (im Importer) ImportText(text string) Result {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	rows := make([][]string, 0, len(lines))
	verbose := false
	for _, l := range lines {
		f := strings.Fields(l)
		if len(f) == 0 {
			continue
		}
		if isVerbose(f) {
			verbose = true
		}
		rows = append(rows, f)
	}
	if verbose {
		return im.verbose(rows)
	}
	return im.compact(rows)
}

func (im Importer) Import(r io.Reader) (Result, error) {
	var sb strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		sb.WriteString(sc.Text())
		sb.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return Result{}, err
	}
	return im.ImportText(sb.String()), nil
}

func (im Importer) ImportFile(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	return im.Import(f)
}

func isVerbose(f []string) bool {
	return len(f) >= minVerboseColumns && f[colFromSep] == "@" && f[colToSep] == "@"
}

func (im Importer) verbose(rows [][]string) Result {
	res := Result{Format: FormatVerbose}
	for _, f := range rows {
		if !isVerbose(f) {
			res.Skipped++
			if im.Logger != nil {
				im.Logger.Debug("skipping non-bridge line", "line", strings.Join(f, " "))
			}
			continue
		}
		dist, err := parseDistance(f[colDistance])
		if err != nil {
			res.Skipped++
			if im.Logger != nil {
				im.Logger.Warn("skipping bridge line with bad distance", "region", f[colRegion], "from", f[colFrom], "to", f[colTo], "distance", f[colDistance])
			}
			continue
		}
		res.Edges = append(res.Edges, model.TopologyEdge{
			From:      f[colFrom],
			To:        f[colTo],
			Status:    f[colStatus],
			Distance:  dist,
			Direction: model.TwoWay,
		})
	}
	if len(res.Edges) == 0 {
		res.Format = FormatNone
	}
	return res
}

func (im Importer) compact(rows [][]string) Result {
	res := Result{Format: FormatCompact}
	for _, f := range rows {
		if len(f) != 3 {
			res.Skipped++
			continue
		}
		d, ok := compactDirections[f[1]]
		if !ok {
			res.Skipped++
			if im.Logger != nil {
				im.Logger.Warn("skipping bridge line with unknown direction", "line", strings.Join(f, " "))
			}
			continue
		}
		e := model.TopologyEdge{From: f[0], To: f[2], Direction: d.dir}
		if d.reverse {
			e.From, e.To = e.To, e.From
		}
		res.Edges = append(res.Edges, e)
	}
	if len(res.Edges) == 0 {
		res.Format = FormatNone
	}
	return res
}

func parseDistance(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if len(s) > 2 && strings.EqualFold(s[len(s)-2:], "ly") {
		s = s[:len(s)-2]
	}
	return strconv.ParseFloat(s, 64)
}

// ImportText runs a silent Importer.
func ImportText(text string) []model.TopologyEdge {
	return Importer{}.ImportText(text).Edges
}

// Export writes edges in compact form, one per line.
func Export(edges []model.TopologyEdge) string {
	var sb strings.Builder
	for _, e := range edges {
		sb.WriteString(e.From)
		if e.Direction == model.OneWay {
			sb.WriteString(" --> ")
		} else {
			sb.WriteString(" <-> ")
		}
		sb.WriteString(e.To)
		sb.WriteByte('\n')
	}
	return sb.String()
}
