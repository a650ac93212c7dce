package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Subtalime/vintel-sub001/internal/cache"
	"github.com/Subtalime/vintel-sub001/internal/chat"
	"github.com/Subtalime/vintel-sub001/internal/config"
	"github.com/Subtalime/vintel-sub001/internal/engine"
	"github.com/Subtalime/vintel-sub001/internal/history"
	"github.com/Subtalime/vintel-sub001/internal/metrics"
	"github.com/Subtalime/vintel-sub001/internal/model"
	"github.com/Subtalime/vintel-sub001/internal/topology"
)

type fixture struct {
	srv    *httptest.Server
	engine *engine.Engine
	parser *chat.Parser
	cache  *cache.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	hist := history.NewStore(100)
	eng, err := engine.NewEngine(cfg, nil, nil, hist)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	parser, err := chat.NewParser(cfg.Parser, chat.NewDictionary([]string{"Delve"}), nil)
	if err != nil {
		t.Fatalf("parser: %v", err)
	}
	c := cache.OpenMemory(nil)
	t.Cleanup(func() { c.Close() })
	s := &Server{
		Config:      config.NewStaticManager(cfg),
		Engine:      eng,
		History:     hist,
		Stats:       metrics.NewStore(10),
		Parser:      parser,
		Cache:       c,
		CacheDriver: c.Driver(),
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, engine: eng, parser: parser, cache: c}
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func post(t *testing.T, url, contentType, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func alarm(loc string) model.ChatEvent {
	return model.ChatEvent{
		Room:               "delve.imperium",
		Author:             "Pilot",
		PlainText:          loc + " hostile",
		Timestamp:          time.Now().UTC(),
		MentionedLocations: []string{loc},
		Intent:             model.IntentAlarm,
	}
}

func TestLocationEndpoints(t *testing.T) {
	f := newFixture(t)
	f.engine.Process(alarm("Delve"))

	var list struct {
		Locations []model.LocationView `json:"locations"`
		Count     int                  `json:"count"`
	}
	if code := getJSON(t, f.srv.URL+"/locations", &list); code != http.StatusOK || list.Count != 1 {
		t.Fatalf("locations code=%d %+v", code, list)
	}

	var one locationResponse
	getJSON(t, f.srv.URL+"/locations/delve", &one)
	if !one.Tracked || one.Status != model.StatusAlarm || len(one.History) != 1 {
		t.Fatalf("delve: %+v", one)
	}

	var missing locationResponse
	getJSON(t, f.srv.URL+"/locations/Nowhere", &missing)
	if missing.Tracked || missing.Status != model.StatusUnknown || missing.Background != "#FFFFFF" {
		t.Fatalf("untracked: %+v", missing)
	}
}

func TestStatusAndReset(t *testing.T) {
	f := newFixture(t)
	f.engine.Process(alarm("Delve"))

	var st StatusResponse
	getJSON(t, f.srv.URL+"/status", &st)
	if st.Tracked != 1 || st.Known != 1 || st.Changes != 1 || st.Cache != "memory" {
		t.Fatalf("status: %+v", st)
	}

	if resp := post(t, f.srv.URL+"/admin/reset", "application/json", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: %d", resp.StatusCode)
	}
	getJSON(t, f.srv.URL+"/status", &st)
	if st.Tracked != 0 || st.Changes != 0 || st.Known != 1 {
		t.Fatalf("after reset: %+v", st)
	}
}

func TestTopologyImportAndExport(t *testing.T) {
	f := newFixture(t)
	resp := post(t, f.srv.URL+"/topology", "text/plain", "1DQ1-A <-> 8WA-Z6\n8WA-Z6 --> Delve\n")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import: %d", resp.StatusCode)
	}
	if len(f.engine.Topology()) != 2 {
		t.Fatalf("engine topology: %+v", f.engine.Topology())
	}
	if _, ok := f.parser.Dictionary().Canonical("8wa-z6"); !ok {
		t.Fatalf("dictionary not extended: %v", f.parser.Dictionary().Names())
	}
	edges, _, ok := topology.Load(context.Background(), f.cache)
	if !ok || len(edges) != 2 {
		t.Fatalf("cached topology ok=%v %+v", ok, edges)
	}

	get, err := http.Get(f.srv.URL + "/topology")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(get.Body)
	get.Body.Close()
	if string(body) != "1DQ1-A <-> 8WA-Z6\n8WA-Z6 --> Delve\n" {
		t.Fatalf("export: %q", body)
	}

	if resp := post(t, f.srv.URL+"/topology", "text/plain", "nothing useful here"); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("garbage import: %d", resp.StatusCode)
	}
	if len(f.engine.Topology()) != 2 {
		t.Fatalf("garbage import replaced topology")
	}

	badDistances := "Delve 1DQ1-A @ IV-M1 8WA-Z6 @ I-M1 online abc 2024.05.01 12:00 GSF ok\n"
	if resp := post(t, f.srv.URL+"/topology", "text/plain", badDistances); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("verbose import without a usable distance: %d", resp.StatusCode)
	}
	if len(f.engine.Topology()) != 2 {
		t.Fatalf("bad verbose import replaced topology")
	}
	if edges, _, ok := topology.Load(context.Background(), f.cache); !ok || len(edges) != 2 {
		t.Fatalf("bad verbose import overwrote cache ok=%v %+v", ok, edges)
	}
}

func TestKnownMonitor(t *testing.T) {
	f := newFixture(t)
	f.engine.Process(alarm("Delve"))

	if resp := post(t, f.srv.URL+"/known", "application/json", `{"name":"pilot","monitor":true}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("monitor: %d", resp.StatusCode)
	}
	if resp := post(t, f.srv.URL+"/known", "application/json", `{"name":"stranger","monitor":true}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown reporter: %d", resp.StatusCode)
	}
	var known struct {
		Known []model.Known `json:"known"`
	}
	getJSON(t, f.srv.URL+"/known", &known)
	if len(known.Known) != 1 || !known.Known[0].Monitor || known.Known[0].LastLocation != "Delve" {
		t.Fatalf("known: %+v", known)
	}
}

func TestChangesRejectsBadSince(t *testing.T) {
	f := newFixture(t)
	if code := getJSON(t, f.srv.URL+"/changes?since=yesterday", nil); code != http.StatusBadRequest {
		t.Fatalf("code: %d", code)
	}
	var out struct {
		Count int `json:"count"`
	}
	if code := getJSON(t, f.srv.URL+"/changes?limit=5", &out); code != http.StatusOK || out.Count != 0 {
		t.Fatalf("code=%d count=%d", code, out.Count)
	}
}
