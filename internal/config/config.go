package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Parser    ParserConfig    `json:"parser" yaml:"parser"`
	Locations LocationsConfig `json:"locations" yaml:"locations"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Topology  TopologyConfig  `json:"topology" yaml:"topology"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	API       APIConfig       `json:"api" yaml:"api"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	TCPStream     TCPConfig      `json:"tcp_stream" yaml:"tcp_stream"`
}

type FileTailConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	StartAtEnd   bool          `json:"start_at_end" yaml:"start_at_end"`
	Files        []string      `json:"files" yaml:"files"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	RescanEvery  time.Duration `json:"rescan_every" yaml:"rescan_every"`
}

type KafkaConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Brokers     []string `json:"brokers" yaml:"brokers"`
	Topic       string   `json:"topic" yaml:"topic"`
	GroupID     string   `json:"group_id" yaml:"group_id"`
	DefaultRoom string   `json:"default_room" yaml:"default_room"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Addr        string `json:"addr" yaml:"addr"`
	DefaultRoom string `json:"default_room" yaml:"default_room"`
}

type ParserConfig struct {
	Timezone          string         `json:"timezone" yaml:"timezone"`
	Keywords          KeywordsConfig `json:"keywords" yaml:"keywords"`
	QuestionIsRequest bool           `json:"question_is_request" yaml:"question_is_request"`
	IgnoreAuthors     []string       `json:"ignore_authors" yaml:"ignore_authors"`
}

type KeywordsConfig struct {
	Clear   []string `json:"clear" yaml:"clear"`
	Request []string `json:"request" yaml:"request"`
	Alarm   []string `json:"alarm" yaml:"alarm"`
}

type LocationsConfig struct {
	Names []string `json:"names" yaml:"names"`
	File  string   `json:"file" yaml:"file"`
}

type EngineConfig struct {
	DecayInterval     time.Duration   `json:"decay_interval" yaml:"decay_interval"`
	DedupeWindow      time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	PropagateRequests bool            `json:"propagate_requests" yaml:"propagate_requests"`
	PersistTTL        time.Duration   `json:"persist_ttl" yaml:"persist_ttl"`
	Gradients         GradientsConfig `json:"gradients" yaml:"gradients"`
	DefaultColors     ColorPair       `json:"default_colors" yaml:"default_colors"`
}

type GradientsConfig struct {
	Alarm      GradientConfig `json:"alarm" yaml:"alarm"`
	Request    GradientConfig `json:"request" yaml:"request"`
	Clear      GradientConfig `json:"clear" yaml:"clear"`
	WasAlarmed GradientConfig `json:"was_alarmed" yaml:"was_alarmed"`
}

type GradientConfig struct {
	Mode    string         `json:"mode" yaml:"mode"`
	Buckets []BucketConfig `json:"buckets" yaml:"buckets"`
}

type BucketConfig struct {
	Threshold  time.Duration `json:"threshold" yaml:"threshold"`
	Background string        `json:"background" yaml:"background"`
	Text       string        `json:"text" yaml:"text"`
}

type ColorPair struct {
	Background string `json:"background" yaml:"background"`
	Text       string `json:"text" yaml:"text"`
}

type CacheConfig struct {
	Driver           string `json:"driver" yaml:"driver"`
	DSN              string `json:"dsn" yaml:"dsn"`
	SchemaVersion    string `json:"schema_version" yaml:"schema_version"`
	Compression      string `json:"compression" yaml:"compression"`
	CompressMinBytes int    `json:"compress_min_bytes" yaml:"compress_min_bytes"`
}

type TopologyConfig struct {
	File     string        `json:"file" yaml:"file"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

type NotifyConfig struct {
	Kafka        NotifyKafkaConfig `json:"kafka" yaml:"kafka"`
	HistoryLimit int               `json:"history_limit" yaml:"history_limit"`
}

type NotifyKafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

const keepUntilSuperseded = 30 * 24 * time.Hour

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true, PollInterval: 200 * time.Millisecond, RescanEvery: 5 * time.Second},
			Kafka:         KafkaConfig{Enabled: false, GroupID: "vintel", DefaultRoom: "kafka"},
			REST:          RESTConfig{Enabled: false, Addr: ":8090"},
			TCPStream:     TCPConfig{Enabled: false, Addr: ":8091", DefaultRoom: "tcp"},
		},
		Parser: ParserConfig{
			Timezone: "UTC",
			Keywords: KeywordsConfig{
				Clear:   []string{"CLR", "CLEAR", "ALL CLEAR"},
				Request: []string{"STATUS", "STAT", "ANY INTEL", "STATUS?"},
				Alarm:   []string{"HOSTILE", "HOSTILES", "RED", "REDS", "NEUT", "NEUTS", "GANG", "FLEET", "CAMP", "BUBBLED", "SPIKE", "+"},
			},
			QuestionIsRequest: true,
			IgnoreAuthors:     []string{"EVE System"},
		},
		Engine: EngineConfig{
			DecayInterval:     5 * time.Second,
			DedupeWindow:      10 * time.Minute,
			PropagateRequests: true,
			PersistTTL:        keepUntilSuperseded,
			Gradients:         defaultGradients(),
			DefaultColors:     ColorPair{Background: "#FFFFFF", Text: "#000000"},
		},
		Cache: CacheConfig{
			Driver:           "sqlite",
			DSN:              "file:vintel-cache.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
			SchemaVersion:    "1",
			Compression:      "lz4",
			CompressMinBytes: 512,
		},
		Topology: TopologyConfig{CacheTTL: keepUntilSuperseded},
		Notify:   NotifyConfig{HistoryLimit: 1000},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
	}
}

func defaultGradients() GradientsConfig {
	return GradientsConfig{
		Alarm: GradientConfig{Mode: "linear", Buckets: []BucketConfig{
			{Threshold: 4 * time.Minute, Background: "#FF0000", Text: "#FFFFFF"},
			{Threshold: 10 * time.Minute, Background: "#FF9B0F", Text: "#FFFFFF"},
			{Threshold: 15 * time.Minute, Background: "#FFFA0F", Text: "#000000"},
			{Threshold: 25 * time.Minute, Background: "#FFFDA2", Text: "#000000"},
			{Threshold: 60 * time.Minute, Background: "#FFFFFF", Text: "#000000"},
		}},
		Request: GradientConfig{Mode: "linear", Buckets: []BucketConfig{
			{Threshold: 2 * time.Minute, Background: "#FFADD6", Text: "#000000"},
			{Threshold: 10 * time.Minute, Background: "#FFFFFF", Text: "#000000"},
		}},
		Clear: GradientConfig{Mode: "linear", Buckets: []BucketConfig{
			{Threshold: 2 * time.Minute, Background: "#59FF6C", Text: "#000000"},
			{Threshold: 10 * time.Minute, Background: "#FFFFFF", Text: "#000000"},
		}},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes YAML or JSON (comments allowed) over the defaults, then
// applies env overrides and validates.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal(jsonc.ToJSON([]byte(trimmed)), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 1000
	}
	if cfg.Parser.Timezone == "" {
		cfg.Parser.Timezone = "UTC"
	}
	if cfg.Engine.DecayInterval <= 0 {
		cfg.Engine.DecayInterval = 5 * time.Second
	}
	if cfg.Engine.PersistTTL <= 0 {
		cfg.Engine.PersistTTL = keepUntilSuperseded
	}
	if cfg.Engine.DefaultColors.Background == "" {
		cfg.Engine.DefaultColors.Background = "#FFFFFF"
	}
	if cfg.Engine.DefaultColors.Text == "" {
		cfg.Engine.DefaultColors.Text = "#000000"
	}
	if len(cfg.Engine.Gradients.Alarm.Buckets) == 0 {
		cfg.Engine.Gradients.Alarm = defaultGradients().Alarm
	}
	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = "sqlite"
	}
	if cfg.Cache.SchemaVersion == "" {
		cfg.Cache.SchemaVersion = "1"
	}
	if cfg.Cache.Compression == "" {
		cfg.Cache.Compression = "none"
	}
	if cfg.Topology.CacheTTL <= 0 {
		cfg.Topology.CacheTTL = keepUntilSuperseded
	}
	if cfg.Notify.HistoryLimit <= 0 {
		cfg.Notify.HistoryLimit = 1000
	}
	if cfg.Ingest.Kafka.DefaultRoom == "" {
		cfg.Ingest.Kafka.DefaultRoom = "kafka"
	}
	if cfg.Ingest.TCPStream.DefaultRoom == "" {
		cfg.Ingest.TCPStream.DefaultRoom = "tcp"
	}
	if cfg.Ingest.FileTail.PollInterval <= 0 {
		cfg.Ingest.FileTail.PollInterval = 200 * time.Millisecond
	}
	if cfg.Ingest.FileTail.RescanEvery <= 0 {
		cfg.Ingest.FileTail.RescanEvery = 5 * time.Second
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "" {
			return errors.New("notify.kafka requires brokers, topic")
		}
	}
	if _, err := time.LoadLocation(cfg.Parser.Timezone); err != nil {
		return fmt.Errorf("parser.timezone: %w", err)
	}
	if cfg.Engine.DecayInterval <= 0 {
		return errors.New("engine.decay_interval must be > 0")
	}
	if cfg.Engine.DedupeWindow < 0 {
		return errors.New("engine.dedupe_window must be >= 0")
	}
	if _, err := cfg.Engine.BuildGradients(); err != nil {
		return err
	}
	if _, _, err := cfg.Engine.DefaultColors.RGB(); err != nil {
		return fmt.Errorf("engine.default_colors: %w", err)
	}
	switch strings.ToLower(cfg.Cache.Driver) {
	case "sqlite", "postgres", "postgresql", "redis", "memory":
	default:
		return fmt.Errorf("cache.driver %q unsupported", cfg.Cache.Driver)
	}
	switch strings.ToLower(cfg.Cache.Compression) {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("cache.compression %q unsupported", cfg.Cache.Compression)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves a fixed config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
