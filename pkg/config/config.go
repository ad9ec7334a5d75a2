// Package config declares the configuration surface for evmindex: the set
// of chains to follow, what to index on each of them, and how the ambient
// subsystems (storage, logging, metrics, the HTTP API, the optional event
// bus) are wired up.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Chains   []ChainConfig    `yaml:"chains" json:"chains" toml:"chains"`
	Sources  []SourceConfig   `yaml:"sources" json:"sources" toml:"sources"`
	Database DatabaseConfig   `yaml:"database" json:"database" toml:"database"`
	Logging  LoggingConfig    `yaml:"logging" json:"logging" toml:"logging"`
	Metrics  MetricsConfig    `yaml:"metrics" json:"metrics" toml:"metrics"`
	API      APIConfig        `yaml:"api" json:"api" toml:"api"`
	EventBus EventBusConfig   `yaml:"eventbus" json:"eventbus" toml:"eventbus"`
	Cache    IndexCacheConfig `yaml:"cache" json:"cache" toml:"cache"`
}

// ChainConfig describes one chain to follow.
type ChainConfig struct {
	// Name is a human-readable identifier used in logs and metrics.
	Name string `yaml:"name" json:"name" toml:"name"`

	// ChainID is the chain's numeric EIP-155 identifier.
	ChainID uint64 `yaml:"chain_id" json:"chain_id" toml:"chain_id"`

	// RPCURL is the JSON-RPC endpoint used for both historical and live
	// fetching. The live tail always polls it; there is no subscription-based
	// tailing, whatever the URL scheme.
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// Finality selects which block tag the chain tail follower treats as
	// irreversible: "finalized", "safe", or "latest" (with FinalityLag).
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// FinalityLag is the number of blocks behind head considered safe from
	// reorg, used only when Finality is "latest".
	FinalityLag uint64 `yaml:"finality_lag" json:"finality_lag" toml:"finality_lag"`

	// MaxReorgDepth bounds how far back the reorg controller will search
	// for a common ancestor before giving up with a fatal error.
	MaxReorgDepth uint64 `yaml:"max_reorg_depth" json:"max_reorg_depth" toml:"max_reorg_depth"`

	// PollInterval is how often the chain tail follower polls for a new
	// head when no subscription is available.
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// BackfillChunkSize is the initial block range requested per
	// eth_getLogs call during historical backfill; the backfiller halves
	// it on "too many results" provider errors and grows it back over time.
	BackfillChunkSize uint64 `yaml:"backfill_chunk_size" json:"backfill_chunk_size" toml:"backfill_chunk_size"`

	// Concurrency bounds how many backfill range tasks run at once for
	// this chain.
	Concurrency int `yaml:"concurrency" json:"concurrency" toml:"concurrency"`

	Retry RetryConfig `yaml:"retry" json:"retry" toml:"retry"`
}

// ApplyDefaults fills in zero-valued optional fields with operational
// defaults.
func (c *ChainConfig) ApplyDefaults() {
	if c.Finality == "" {
		c.Finality = "safe"
	}
	if c.FinalityLag == 0 {
		c.FinalityLag = 64
	}
	if c.MaxReorgDepth == 0 {
		c.MaxReorgDepth = 256
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval = NewDuration(4 * time.Second)
	}
	if c.BackfillChunkSize == 0 {
		c.BackfillChunkSize = 2000
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	c.Retry.ApplyDefaults()
}

func (c *ChainConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("chains: name is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chains[%s]: chain_id is required", c.Name)
	}
	if c.RPCURL == "" {
		return fmt.Errorf("chains[%s]: rpc_url is required", c.Name)
	}
	switch c.Finality {
	case "finalized", "safe", "latest":
	default:
		return fmt.Errorf("chains[%s]: finality must be one of finalized, safe, latest", c.Name)
	}
	return nil
}

// RetryConfig governs exponential backoff for RPC calls.
type RetryConfig struct {
	MaxAttempts       int      `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`
	InitialBackoff    Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff        Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = NewDuration(250 * time.Millisecond)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = NewDuration(30 * time.Second)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// SourceConfig declares one filter source: a named set of match criteria
// the sync coordinator evaluates against every incoming record, and the
// table a matching record is written to.
type SourceConfig struct {
	Name    string   `yaml:"name" json:"name" toml:"name"`
	Kind    string   `yaml:"kind" json:"kind" toml:"kind"` // log, block, transaction, transfer, trace
	Chains  []uint64 `yaml:"chains" json:"chains" toml:"chains"`
	Table   string   `yaml:"table" json:"table" toml:"table"`
	Address []string `yaml:"address" json:"address" toml:"address"`

	// FactoryOf names another source whose matched logs spawn the child
	// addresses this source should match against, instead of a fixed
	// Address list.
	FactoryOf      string `yaml:"factory_of" json:"factory_of" toml:"factory_of"`
	FactoryTopic   int    `yaml:"factory_topic" json:"factory_topic" toml:"factory_topic"`
	FactoryOffset  int    `yaml:"factory_offset" json:"factory_offset" toml:"factory_offset"`

	Topics     [][]string `yaml:"topics" json:"topics" toml:"topics"`
	Selectors  []string   `yaml:"selectors" json:"selectors" toml:"selectors"`
	From       []string   `yaml:"from" json:"from" toml:"from"`
	To         []string   `yaml:"to" json:"to" toml:"to"`
	Interval   uint64     `yaml:"interval" json:"interval" toml:"interval"`
	Offset     uint64     `yaml:"offset" json:"offset" toml:"offset"`
	StartBlock uint64     `yaml:"start_block" json:"start_block" toml:"start_block"`
}

func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("sources: name is required")
	}
	switch s.Kind {
	case "log", "block", "transaction", "transfer", "trace":
	default:
		return fmt.Errorf("sources[%s]: kind must be one of log, block, transaction, transfer, trace", s.Name)
	}
	if s.Table == "" {
		return fmt.Errorf("sources[%s]: table is required", s.Name)
	}
	return nil
}

// DatabaseConfig selects the storage dialect and its connection settings.
type DatabaseConfig struct {
	// Dialect is "sqlite" or "postgres".
	Dialect string `yaml:"dialect" json:"dialect" toml:"dialect"`

	// Path is the SQLite file path, used when Dialect is "sqlite".
	Path string `yaml:"path" json:"path" toml:"path"`

	// DSN is the Postgres connection string, used when Dialect is "postgres".
	DSN string `yaml:"dsn" json:"dsn" toml:"dsn"`

	JournalMode        string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`
	Synchronous        string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`
	BusyTimeoutMS      int    `yaml:"busy_timeout_ms" json:"busy_timeout_ms" toml:"busy_timeout_ms"`
	MaxOpenConnections int    `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
}

func (d *DatabaseConfig) ApplyDefaults() {
	if d.Dialect == "" {
		d.Dialect = "sqlite"
	}
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeoutMS == 0 {
		d.BusyTimeoutMS = 5000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

func (d *DatabaseConfig) Validate() error {
	switch d.Dialect {
	case "sqlite":
		if d.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite dialect")
		}
	case "postgres":
		if d.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres dialect")
		}
	default:
		return fmt.Errorf("database.dialect must be one of sqlite, postgres")
	}
	return nil
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level" toml:"level"`
	Development bool   `yaml:"development" json:"development" toml:"development"`
}

func (l *LoggingConfig) ApplyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
}

// MetricsConfig configures the Prometheus exposition server.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// APIConfig configures the HTTP control and query surface.
type APIConfig struct {
	ListenAddress  string   `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	ReadTimeout    Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	CORS           bool     `yaml:"cors" json:"cors" toml:"cors"`
	EnableSQLProxy bool     `yaml:"enable_sql_proxy" json:"enable_sql_proxy" toml:"enable_sql_proxy"`
}

func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = NewDuration(10 * time.Second)
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = NewDuration(10 * time.Second)
	}
}

// EventBusConfig optionally publishes checkpoint, finality and reorg
// notifications to a NATS JetStream subject so other services can react to
// indexing progress without polling the status store.
type EventBusConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	URL           string `yaml:"url" json:"url" toml:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix" toml:"subject_prefix"`
}

func (e *EventBusConfig) ApplyDefaults() {
	if e.SubjectPrefix == "" {
		e.SubjectPrefix = "evmindex"
	}
}

func (e *EventBusConfig) Validate() error {
	if e.Enabled && e.URL == "" {
		return fmt.Errorf("eventbus.url is required when eventbus.enabled is true")
	}
	return nil
}

// IndexCacheConfig bounds the write-through indexing cache's memory use.
type IndexCacheConfig struct {
	MaxBytes  int64   `yaml:"max_bytes" json:"max_bytes" toml:"max_bytes"`
	FlushRatio float64 `yaml:"flush_ratio" json:"flush_ratio" toml:"flush_ratio"`
}

func (i *IndexCacheConfig) ApplyDefaults() {
	if i.MaxBytes == 0 {
		i.MaxBytes = 256 * 1024 * 1024
	}
	if i.FlushRatio == 0 {
		i.FlushRatio = 0.25
	}
}

// ApplyDefaults fills in every optional field across the whole document.
func (c *Config) ApplyDefaults() {
	for i := range c.Chains {
		c.Chains[i].ApplyDefaults()
	}
	c.Database.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Metrics.ApplyDefaults()
	c.API.ApplyDefaults()
	c.EventBus.ApplyDefaults()
	c.Cache.ApplyDefaults()
}

// Validate checks the document for internal consistency.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	seenChains := make(map[uint64]bool)
	for i := range c.Chains {
		if err := c.Chains[i].Validate(); err != nil {
			return err
		}
		if seenChains[c.Chains[i].ChainID] {
			return fmt.Errorf("chains: duplicate chain_id %d", c.Chains[i].ChainID)
		}
		seenChains[c.Chains[i].ChainID] = true
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	seenSources := make(map[string]bool)
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return err
		}
		if seenSources[c.Sources[i].Name] {
			return fmt.Errorf("sources: duplicate name %q", c.Sources[i].Name)
		}
		seenSources[c.Sources[i].Name] = true

		if c.Sources[i].FactoryOf != "" && !seenSources[c.Sources[i].FactoryOf] {
			return fmt.Errorf("sources[%s]: factory_of %q must be declared before its dependents", c.Sources[i].Name, c.Sources[i].FactoryOf)
		}
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	return c.EventBus.Validate()
}
