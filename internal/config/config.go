package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

const (
	ScopeGlobal = "global"
	ScopeSource = "source"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

type IngestConfig struct {
	ChannelBuffer int                 `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig          `json:"rest" yaml:"rest"`
	Session       SessionIngestConfig `json:"session" yaml:"session"`
	Signal        SignalIngestConfig  `json:"signal" yaml:"signal"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type SessionIngestConfig struct {
	UDPAddr string      `json:"udp_addr" yaml:"udp_addr"`
	Kafka   KafkaConfig `json:"kafka" yaml:"kafka"`
}

type SignalIngestConfig struct {
	UDPAddr  string         `json:"udp_addr" yaml:"udp_addr"`
	TCPAddr  string         `json:"tcp_addr" yaml:"tcp_addr"`
	FileTail FileTailConfig `json:"file_tail" yaml:"file_tail"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type DetectionConfig struct {
	Correlation CorrelationConfig `json:"correlation" yaml:"correlation"`
	Signal      SignalConfig      `json:"signal" yaml:"signal"`
}

type CorrelationConfig struct {
	WindowDuration time.Duration `json:"window_duration" yaml:"window_duration"`
	CountThreshold int           `json:"count_threshold" yaml:"count_threshold"`
	// Scope is "global" (one window for all sources) or "source" (one window per sender).
	Scope string `json:"scope" yaml:"scope"`
}

type SignalConfig struct {
	MaxAllowed     float64 `json:"max_allowed" yaml:"max_allowed"`
	SlopeThreshold float64 `json:"slope_threshold" yaml:"slope_threshold"`
}

type AlertsConfig struct {
	StoreLimit      int               `json:"store_limit" yaml:"store_limit"`
	DeliveryTimeout time.Duration     `json:"delivery_timeout" yaml:"delivery_timeout"`
	Kafka           KafkaEgressConfig `json:"kafka" yaml:"kafka"`
}

type KafkaEgressConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// StorageConfig configures the optional write-only alert journal.
type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

// ConfigurationError reports an invalid setting. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 1024,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Session:       SessionIngestConfig{UDPAddr: ":9000"},
			Signal: SignalIngestConfig{
				UDPAddr:  ":9001",
				FileTail: FileTailConfig{Enabled: false, StartAtEnd: true},
			},
		},
		Detection: DetectionConfig{
			Correlation: CorrelationConfig{
				WindowDuration: 2 * time.Second,
				CountThreshold: 5,
				Scope:          ScopeGlobal,
			},
			Signal: SignalConfig{
				MaxAllowed:     40,
				SlopeThreshold: 12,
			},
		},
		Alerts: AlertsConfig{
			StoreLimit:      1000,
			DeliveryTimeout: 250 * time.Millisecond,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:evguard.db?_pragma=busy_timeout(5000)"},
	}
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(content)
}

// Parse decodes a YAML or JSON document over the defaults and validates the result.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode config: %w", decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as JSON when path ends in .json and as YAML otherwise.
func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	marshal := yaml.Marshal
	if strings.EqualFold(filepath.Ext(path), ".json") {
		marshal = func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
	}
	data, err := marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
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

// applyDefaults fills ambient settings only. Detection thresholds are never defaulted here so
// that an explicit zero in the file is rejected by Validate.
func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 1024
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Alerts.DeliveryTimeout <= 0 {
		cfg.Alerts.DeliveryTimeout = 250 * time.Millisecond
	}
	if cfg.Detection.Correlation.Scope == "" {
		cfg.Detection.Correlation.Scope = ScopeGlobal
	}
}

func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := ValidateDetection(cfg.Detection); err != nil {
		return err
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return invalid("api.addr", "required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return invalid("ingest.rest.addr", "required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Signal.FileTail.Enabled && len(cfg.Ingest.Signal.FileTail.Files) == 0 {
		return invalid("ingest.signal.file_tail.files", "required when file_tail is enabled")
	}
	if k := cfg.Ingest.Session.Kafka; k.Enabled {
		if len(k.Brokers) == 0 || k.Topic == "" || k.GroupID == "" {
			return invalid("ingest.session.kafka", "requires brokers, topic, group_id")
		}
	}
	if k := cfg.Alerts.Kafka; k.Enabled {
		if len(k.Brokers) == 0 || k.Topic == "" {
			return invalid("alerts.kafka", "requires brokers and topic")
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return invalid("storage.driver", fmt.Sprintf("unsupported driver %q", cfg.Storage.Driver))
		}
	}
	return nil
}

// ValidateDetection checks the detector thresholds on their own.
func ValidateDetection(d DetectionConfig) error {
	if d.Correlation.WindowDuration <= 0 {
		return invalid("detection.correlation.window_duration", fmt.Sprintf("must be > 0, got %s", d.Correlation.WindowDuration))
	}
	if d.Correlation.CountThreshold <= 0 {
		return invalid("detection.correlation.count_threshold", fmt.Sprintf("must be > 0, got %d", d.Correlation.CountThreshold))
	}
	switch d.Correlation.Scope {
	case ScopeGlobal, ScopeSource:
	default:
		return invalid("detection.correlation.scope", fmt.Sprintf("must be %q or %q, got %q", ScopeGlobal, ScopeSource, d.Correlation.Scope))
	}
	if d.Signal.MaxAllowed <= 0 {
		return invalid("detection.signal.max_allowed", fmt.Sprintf("must be > 0, got %g", d.Signal.MaxAllowed))
	}
	if d.Signal.SlopeThreshold <= 0 {
		return invalid("detection.signal.slope_threshold", fmt.Sprintf("must be > 0, got %g", d.Signal.SlopeThreshold))
	}
	return nil
}

// Manager holds the active config and swaps it when the file on disk changes. Readers always see
// a complete, validated Config.
type Manager struct {
	path string
	cfg  atomic.Pointer[Config]

	mu   sync.Mutex
	seen fileStamp
}

// fileStamp identifies one version of the config file. Size is compared too because some
// filesystems only keep second-resolution mtimes.
type fileStamp struct {
	modTime time.Time
	size    int64
}

func stampOf(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}, nil
}

func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if _, err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewStaticManager wraps an already-built config that is never reloaded from disk.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if cfg := m.cfg.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

// Reload reads the file and, if it is valid, makes it the active config. The file version is
// recorded either way so a rejected file is reported once rather than on every poll.
func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, err := stampOf(m.path); err == nil {
		m.seen = st
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	st, err := stampOf(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !st.modTime.Equal(m.seen.modTime) || st.size != m.seen.size, nil
}

// Watch polls the file every interval until ctx is done. onReload gets each accepted config;
// onError gets stat failures and rejected files, after which the previous config stays active.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		needs, err := m.NeedsReload()
		if err != nil {
			report(err)
			continue
		}
		if !needs {
			continue
		}
		cfg, err := m.Reload()
		if err != nil {
			report(err)
			continue
		}
		if onReload != nil {
			onReload(cfg)
		}
	}
}

// ResolvePath makes a relative config path absolute against the working directory.
func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
