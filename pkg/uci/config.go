// Package uci loads the specman configuration from a UCI-style file.
package uci

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/specman/pkg"
	"github.com/markus-lassfolk/specman/pkg/mqtt"
	"github.com/markus-lassfolk/specman/pkg/optimizer"
	"github.com/markus-lassfolk/specman/pkg/remote"
	"github.com/markus-lassfolk/specman/pkg/scoring"
	"github.com/markus-lassfolk/specman/pkg/wifi"
)

// DefaultConfigPath is where OpenWrt keeps the file
const DefaultConfigPath = "/etc/config/specman"

// Default values
const (
	DefaultLogLevel      = "info"
	DefaultDatabasePath  = "/var/lib/specman/specman.db"
	DefaultEpochDBPath   = "/var/lib/specman/epoch.db"
	DefaultHistoryDays   = 1
	DefaultSliceWidthS   = 300
	DefaultQuantileNum   = 7
	DefaultQuantileDen   = 8
	DefaultMaxCandidates = 1 << 24
	DefaultTopN          = 10
	DefaultApplyTimeoutS = 25
	DefaultAgentTimeoutS = 60
)

// DefaultChannels are the non-DFS 5 GHz UNII-1 channels 36 to 48
var DefaultChannels = wifi.ChannelsFor("", false).Frequencies()

// Config represents the specman configuration
type Config struct {
	// Main
	LogLevel        string `json:"log_level"`
	DatabasePath    string `json:"database_path"`
	EpochDBPath     string `json:"epoch_db_path"`
	MetricsTextfile string `json:"metrics_textfile"`
	RegDomain       string `json:"regdomain"`
	UseDFS          bool   `json:"use_dfs"`
	Channels        []int  `json:"channels"`

	// Scoring
	HistoryDays int     `json:"history_days"`
	SliceWidthS int     `json:"slice_width_s"`
	QuantileNum int     `json:"quantile_num"`
	QuantileDen int     `json:"quantile_den"`
	DummyBusy   float64 `json:"dummy_busy"`
	DummyRx     float64 `json:"dummy_rx"`
	DummyTx     float64 `json:"dummy_tx"`
	DefaultTx   float64 `json:"default_tx"`

	// Optimizer
	MaxCandidates int `json:"max_candidates"`
	Workers       int `json:"workers"`
	TopN          int `json:"top_n"`

	// Remote
	RemoteUser    string `json:"remote_user"`
	RemotePort    int    `json:"remote_port"`
	KeyFile       string `json:"key_file"`
	KnownHosts    string `json:"known_hosts"`
	ApplyTimeoutS int    `json:"apply_timeout_s"`
	AgentTimeoutS int    `json:"agent_timeout_s"`
	AgentPath     string `json:"agent_path"`
	SetchanScript string `json:"setchan_script"`

	// MQTT
	MQTT *mqtt.Config `json:"mqtt"`

	channelsSet bool
}

// LoadConfig loads and validates the configuration. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	return loadConfigFromFile(path)
}

func loadConfigFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := cfg.parseUCI(path); err != nil {
		return nil, fmt.Errorf("failed to parse UCI config: %w", err)
	}

	// an explicit channel list wins over the regulatory domain set
	if cfg.RegDomain != "" && !cfg.channelsSet {
		cfg.Channels = wifi.ChannelsFor(cfg.RegDomain, cfg.UseDFS).Frequencies()
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for the configuration
func (c *Config) setDefaults() {
	c.LogLevel = DefaultLogLevel
	c.DatabasePath = DefaultDatabasePath
	c.EpochDBPath = DefaultEpochDBPath
	c.Channels = append([]int(nil), DefaultChannels...)

	d := pkg.DefaultDefaults()
	c.HistoryDays = DefaultHistoryDays
	c.SliceWidthS = DefaultSliceWidthS
	c.QuantileNum = DefaultQuantileNum
	c.QuantileDen = DefaultQuantileDen
	c.DummyBusy = d.Busy
	c.DummyRx = d.Rx
	c.DummyTx = d.Tx
	c.DefaultTx = d.TxBaseline

	c.MaxCandidates = DefaultMaxCandidates
	c.TopN = DefaultTopN

	rc := remote.DefaultConfig()
	c.RemoteUser = rc.User
	c.RemotePort = rc.Port
	c.KeyFile = rc.KeyFile
	c.ApplyTimeoutS = DefaultApplyTimeoutS
	c.AgentTimeoutS = DefaultAgentTimeoutS
	c.AgentPath = remote.DefaultAgentPath
	c.SetchanScript = remote.DefaultSetchanScript

	c.MQTT = mqtt.DefaultConfig()
}

// parseUCI parses the UCI configuration file
func (c *Config) parseUCI(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var sectionType, sectionName string
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		switch parts[0] {
		case "config":
			if len(parts) < 2 {
				return fmt.Errorf("line %d: section without type", n+1)
			}
			sectionType = parts[1]
			sectionName = ""
			if len(parts) >= 3 {
				sectionName = unquote(parts[2])
			}
		case "option", "list":
			if len(parts) < 3 {
				return fmt.Errorf("line %d: %s without value", n+1, parts[0])
			}
			value := unquote(strings.Join(parts[2:], " "))
			if err := c.parseOption(sectionType, sectionName, parts[1], value); err != nil {
				return fmt.Errorf("line %d: %w", n+1, err)
			}
		}
	}
	return nil
}

func unquote(s string) string {
	return strings.Trim(s, "'\"")
}

// parseOption routes options to appropriate parsers based on section type
func (c *Config) parseOption(sectionType, sectionName, option, value string) error {
	if sectionName != "" && sectionName != "main" {
		return nil
	}
	switch sectionType {
	case "specman":
		return c.parseMainOption(option, value)
	case "scoring":
		return c.parseScoringOption(option, value)
	case "optimizer":
		return c.parseOptimizerOption(option, value)
	case "remote":
		return c.parseRemoteOption(option, value)
	case "mqtt":
		return c.parseMQTTOption(option, value)
	}
	return nil
}

func (c *Config) parseMainOption(option, value string) error {
	switch option {
	case "log_level":
		c.LogLevel = value
	case "database_path":
		c.DatabasePath = value
	case "epoch_db_path":
		c.EpochDBPath = value
	case "metrics_textfile":
		c.MetricsTextfile = value
	case "regdomain":
		c.RegDomain = value
	case "use_dfs":
		c.UseDFS = value == "1"
	case "channel":
		freqs, err := wifi.ParseFrequencies(value)
		if err != nil {
			return err
		}
		// the first listed channel replaces the defaults
		if !c.channelsSet {
			c.Channels = nil
			c.channelsSet = true
		}
		c.Channels = append(c.Channels, freqs...)
	}
	return nil
}

func (c *Config) parseScoringOption(option, value string) error {
	var err error
	switch option {
	case "history_days":
		c.HistoryDays, err = strconv.Atoi(value)
	case "slice_width_s":
		c.SliceWidthS, err = strconv.Atoi(value)
	case "quantile_num":
		c.QuantileNum, err = strconv.Atoi(value)
	case "quantile_den":
		c.QuantileDen, err = strconv.Atoi(value)
	case "dummy_busy":
		c.DummyBusy, err = strconv.ParseFloat(value, 64)
	case "dummy_rx":
		c.DummyRx, err = strconv.ParseFloat(value, 64)
	case "dummy_tx":
		c.DummyTx, err = strconv.ParseFloat(value, 64)
	case "default_tx":
		c.DefaultTx, err = strconv.ParseFloat(value, 64)
	}
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", option, value, err)
	}
	return nil
}

func (c *Config) parseOptimizerOption(option, value string) error {
	var err error
	switch option {
	case "max_candidates":
		c.MaxCandidates, err = strconv.Atoi(value)
	case "workers":
		c.Workers, err = strconv.Atoi(value)
	case "top_n":
		c.TopN, err = strconv.Atoi(value)
	}
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", option, value, err)
	}
	return nil
}

func (c *Config) parseRemoteOption(option, value string) error {
	var err error
	switch option {
	case "user":
		c.RemoteUser = value
	case "port":
		c.RemotePort, err = strconv.Atoi(value)
	case "key_file":
		c.KeyFile = value
	case "known_hosts":
		c.KnownHosts = value
	case "timeout_s":
		c.ApplyTimeoutS, err = strconv.Atoi(value)
	case "agent_timeout_s":
		c.AgentTimeoutS, err = strconv.Atoi(value)
	case "agent_path":
		c.AgentPath = value
	case "setchan_script":
		c.SetchanScript = value
	}
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", option, value, err)
	}
	return nil
}

func (c *Config) parseMQTTOption(option, value string) error {
	var err error
	switch option {
	case "enabled":
		c.MQTT.Enabled = value == "1"
	case "broker":
		c.MQTT.Broker = value
	case "port":
		c.MQTT.Port, err = strconv.Atoi(value)
	case "client_id":
		c.MQTT.ClientID = value
	case "username":
		c.MQTT.Username = value
	case "password":
		c.MQTT.Password = value
	case "topic_prefix":
		c.MQTT.TopicPrefix = value
	case "qos":
		c.MQTT.QoS, err = strconv.Atoi(value)
	case "retain":
		c.MQTT.Retain = value == "1"
	}
	if err != nil {
		return fmt.Errorf("invalid mqtt %s %q: %w", option, value, err)
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("log_level must be one of trace, debug, info, warn, error")
	}

	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	seen := make(map[int]bool, len(c.Channels))
	for _, f := range c.Channels {
		if f <= 0 {
			return fmt.Errorf("channel frequency %d must be positive", f)
		}
		if seen[f] {
			return fmt.Errorf("channel frequency %d listed twice", f)
		}
		seen[f] = true
	}

	if c.HistoryDays < 1 || c.HistoryDays > 365 {
		return fmt.Errorf("history_days must be between 1 and 365")
	}
	if c.SliceWidthS < 1 {
		return fmt.Errorf("slice_width_s must be at least 1")
	}
	if c.QuantileDen < 1 || c.QuantileNum < 0 || c.QuantileNum > c.QuantileDen {
		return fmt.Errorf("quantile must satisfy 0 <= quantile_num <= quantile_den and quantile_den >= 1")
	}
	for name, v := range map[string]float64{
		"dummy_busy": c.DummyBusy,
		"dummy_rx":   c.DummyRx,
		"dummy_tx":   c.DummyTx,
		"default_tx": c.DefaultTx,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}

	if c.MaxCandidates < 0 {
		return fmt.Errorf("max_candidates must not be negative")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}

	if c.RemotePort < 1 || c.RemotePort > 65535 {
		return fmt.Errorf("remote port must be between 1 and 65535")
	}
	if c.ApplyTimeoutS < 1 || c.AgentTimeoutS < 1 {
		return fmt.Errorf("remote timeouts must be at least 1 second")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	if c.MQTT.Enabled && (c.MQTT.Port < 1 || c.MQTT.Port > 65535) {
		return fmt.Errorf("mqtt port must be between 1 and 65535")
	}

	return nil
}

func isValidLogLevel(level string) bool {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return true
		}
	}
	return false
}

// ScoringConfig returns the scorer settings
func (c *Config) ScoringConfig() scoring.Config {
	return scoring.Config{
		HistoryWindow: time.Duration(c.HistoryDays) * 24 * time.Hour,
		SliceWidth:    int64(c.SliceWidthS),
		Quantile:      pkg.Quantile{Num: c.QuantileNum, Den: c.QuantileDen},
		Defaults: pkg.Defaults{
			Busy:       c.DummyBusy,
			Rx:         c.DummyRx,
			Tx:         c.DummyTx,
			TxBaseline: c.DefaultTx,
		},
	}
}

// OptimizerOptions returns the search settings
func (c *Config) OptimizerOptions(verbose bool) optimizer.Options {
	return optimizer.Options{
		Verbose:       verbose,
		TopN:          c.TopN,
		Workers:       c.Workers,
		MaxCandidates: c.MaxCandidates,
	}
}

// RemoteConfig returns the ssh settings
func (c *Config) RemoteConfig() remote.Config {
	rc := remote.DefaultConfig()
	rc.User = c.RemoteUser
	rc.Port = c.RemotePort
	rc.KeyFile = c.KeyFile
	rc.KnownHostsFile = c.KnownHosts
	return rc
}

// SetterOptions returns the channel apply settings
func (c *Config) SetterOptions(dryRun bool) remote.SetterOptions {
	return remote.SetterOptions{
		Script:  c.SetchanScript,
		Timeout: time.Duration(c.ApplyTimeoutS) * time.Second,
		DryRun:  dryRun,
	}
}

// AgentTimeout bounds one measurement agent run
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutS) * time.Second
}
