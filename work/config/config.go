package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration values for the gateway.
type Config struct {
	ListenAddr           string           // Address the REST surface binds to
	PublicBaseURL        string           // Externally reachable base URL used in proxied links
	LogLevel             string           // DEBUG, INFO, WARN or ERROR
	ObfuscateUrls        bool             // Mask upstream URL paths and queries in logs
	UserAgent            string           // User-Agent sent to the upstream
	ProbeTimeout         time.Duration    // Deadline for a single upstream probe
	CatalogTimeout       time.Duration    // Deadline for player_api.php calls
	SegmentDuration      time.Duration    // Nominal per-segment duration in synthesized manifests
	MaxSegments          int              // Hard ceiling on successful segment probes
	DiscoveryWindow      int              // Concurrent segment probes per discovery call
	WorkerThreads        int              // Size of the probe pool shared by all discoveries
	CatalogCacheTTL      time.Duration    // Lifetime of cached vod/series info responses
	CatalogRatePerSecond int              // Pacing of player_api.php calls per upstream host
	DatabasePath         string           // SQLite mirror location, empty disables the mirror
	SyncInterval         time.Duration    // Mirror refresh period, zero disables the loop
	Playlists            []PlaylistConfig // Upstream accounts, index is the playlist id
}

// PlaylistConfig describes one upstream Xtream Codes account.
type PlaylistConfig struct {
	Name               string `json:"name"`
	URL                string `json:"url"` // Base URL or a get.php?username=&password= playlist URL
	Username           string `json:"username"`
	Password           string `json:"password"`
	LiveIncludeRegex   string `json:"liveIncludeRegex,omitempty"`
	LiveExcludeRegex   string `json:"liveExcludeRegex,omitempty"`
	SeriesIncludeRegex string `json:"seriesIncludeRegex,omitempty"`
	SeriesExcludeRegex string `json:"seriesExcludeRegex,omitempty"`
	VODIncludeRegex    string `json:"vodIncludeRegex,omitempty"`
	VODExcludeRegex    string `json:"vodExcludeRegex,omitempty"`
}

// ConfigFile is the on-disk JSON shape; durations are strings such as "5s".
type ConfigFile struct {
	ListenAddr           string           `json:"listenAddr"`
	PublicBaseURL        string           `json:"publicBaseURL"`
	LogLevel             string           `json:"logLevel"`
	ObfuscateUrls        bool             `json:"obfuscateUrls"`
	UserAgent            string           `json:"userAgent"`
	ProbeTimeout         string           `json:"probeTimeout"`
	CatalogTimeout       string           `json:"catalogTimeout"`
	SegmentDuration      string           `json:"segmentDuration"`
	MaxSegments          int              `json:"maxSegments"`
	DiscoveryWindow      int              `json:"discoveryWindow"`
	WorkerThreads        int              `json:"workerThreads"`
	CatalogCacheTTL      string           `json:"catalogCacheTTL"`
	CatalogRatePerSecond int              `json:"catalogRatePerSecond"`
	DatabasePath         string           `json:"databasePath"`
	SyncInterval         string           `json:"syncInterval"`
	Playlists            []PlaylistConfig `json:"playlists"`
}

const (
	DefaultConfigPath      = "/settings/config.json"
	DefaultProbeTimeout    = 5 * time.Second
	DefaultSegmentDuration = 10 * time.Second
	DefaultMaxSegments     = 1000
	DefaultDiscoveryWindow = 6
	MaxDiscoveryWindow     = 16
	DefaultWorkerThreads   = 64
	DefaultSyncInterval    = 12 * time.Hour
)

var (
	configCache *Config
	configMutex sync.RWMutex
)

// LoadConfig loads the configuration from $GATEWAY_CONFIG or DefaultConfigPath,
// falling back to defaults when the file is missing or invalid. The result is
// cached until ClearConfigCache is called.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("GATEWAY_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = Default()
	}

	configCache = config
	return config
}

// LoadFromFile reads, converts and validates a JSON config file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse converts raw JSON into a validated Config.
func Parse(data []byte) (*Config, error) {
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	config, err := convertFromFile(&configFile)
	if err != nil {
		return nil, err
	}

	validateAndSetDefaults(config)
	return config, nil
}

// convertFromFile parses duration strings; empty strings leave the zero value
// for validateAndSetDefaults to fill.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		ListenAddr:           cf.ListenAddr,
		PublicBaseURL:        cf.PublicBaseURL,
		LogLevel:             cf.LogLevel,
		ObfuscateUrls:        cf.ObfuscateUrls,
		UserAgent:            cf.UserAgent,
		MaxSegments:          cf.MaxSegments,
		DiscoveryWindow:      cf.DiscoveryWindow,
		WorkerThreads:        cf.WorkerThreads,
		CatalogRatePerSecond: cf.CatalogRatePerSecond,
		DatabasePath:         cf.DatabasePath,
		Playlists:            cf.Playlists,
		SyncInterval:         DefaultSyncInterval,
	}

	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{"probeTimeout", cf.ProbeTimeout, &config.ProbeTimeout},
		{"catalogTimeout", cf.CatalogTimeout, &config.CatalogTimeout},
		{"segmentDuration", cf.SegmentDuration, &config.SegmentDuration},
		{"catalogCacheTTL", cf.CatalogCacheTTL, &config.CatalogCacheTTL},
		{"syncInterval", cf.SyncInterval, &config.SyncInterval},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.target = parsed
	}

	return config, nil
}

// Default returns a baseline configuration with no playlists.
func Default() *Config {
	config := &Config{}
	validateAndSetDefaults(config)
	return config
}

func validateAndSetDefaults(config *Config) {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8000"
	}
	if config.PublicBaseURL == "" {
		config.PublicBaseURL = "http://localhost:8000"
	}
	config.PublicBaseURL = strings.TrimRight(config.PublicBaseURL, "/")
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	if config.CatalogTimeout <= 0 {
		config.CatalogTimeout = 30 * time.Second
	}
	if config.SegmentDuration <= 0 {
		config.SegmentDuration = DefaultSegmentDuration
	}
	if config.MaxSegments <= 0 {
		config.MaxSegments = DefaultMaxSegments
	}
	if config.DiscoveryWindow <= 0 {
		config.DiscoveryWindow = DefaultDiscoveryWindow
	}
	if config.DiscoveryWindow > MaxDiscoveryWindow {
		config.DiscoveryWindow = MaxDiscoveryWindow
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = DefaultWorkerThreads
	}
	// One discovery must be able to fill its window.
	config.WorkerThreads = max(config.WorkerThreads, config.DiscoveryWindow)
	if config.CatalogCacheTTL <= 0 {
		config.CatalogCacheTTL = 10 * time.Minute
	}
	if config.CatalogRatePerSecond <= 0 {
		config.CatalogRatePerSecond = 5
	}
	if config.SyncInterval < 0 {
		config.SyncInterval = 0
	}

	for i := range config.Playlists {
		pl := &config.Playlists[i]
		if pl.Name == "" {
			pl.Name = fmt.Sprintf("Playlist_%d", i+1)
		}
		pl.URL = strings.TrimSpace(pl.URL)
	}
}

// ClearConfigCache forces a reload on the next LoadConfig call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}
