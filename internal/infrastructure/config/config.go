package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
)

// Gateway transport types.
const (
	GatewayTypeSerial = "serial"
	GatewayTypeTCP    = "tcp"
	GatewayTypeMQTT   = "mqtt"
)

// Persistence backends.
const (
	PersistenceSQLite = "sqlite"
	PersistenceJSON   = "json"
)

// Gateway defaults.
const (
	DefaultBaudRate        = 115200
	DefaultTCPPort         = 5003
	DefaultProtocolVersion = protocol.DefaultVersion
)

// Config is the root configuration structure for the MySensors daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Gateways    []GatewayConfig   `yaml:"gateways"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	// TopicPrefix roots the discovery, state and health topics.
	TopicPrefix string `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PersistenceConfig selects where node snapshots are stored.
type PersistenceConfig struct {
	// Backend is "sqlite" (the database section) or "json" (one file per gateway).
	Backend string `yaml:"backend"`

	// Directory holds JSON snapshot files when a gateway has no explicit persistence_file.
	Directory string `yaml:"directory"`

	// SaveInterval is how often each session writes its snapshot.
	SaveInterval time.Duration `yaml:"save_interval"`
}

// GatewayConfig describes one physical MySensors gateway.
type GatewayConfig struct {
	ID string `yaml:"id"`

	// Type is "serial", "tcp" or "mqtt". When empty it is inferred from Device.
	Type string `yaml:"type"`

	// Device is a serial port path, a host name or IP address, or "mqtt".
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	TCPPort  int    `yaml:"tcp_port"`
	Version  string `yaml:"version"`

	// Persistence disables snapshot load/save for this gateway when false.
	Persistence     *bool  `yaml:"persistence"`
	PersistenceFile string `yaml:"persistence_file"`

	TopicInPrefix  string `yaml:"topic_in_prefix"`
	TopicOutPrefix string `yaml:"topic_out_prefix"`
	Retain         bool   `yaml:"retain"`

	// Optimistic commands update local state before the node confirms them.
	Optimistic bool `yaml:"optimistic"`

	Nodes map[int]NodeConfig `yaml:"nodes"`

	Timeouts  GatewayTimeouts  `yaml:"timeouts"`
	Reconnect GatewayReconnect `yaml:"reconnect"`
}

// NodeConfig carries per-node overrides.
type NodeConfig struct {
	Name string `yaml:"name"`
}

// GatewayTimeouts holds the session timers. None of them may be zero.
type GatewayTimeouts struct {
	Connect          time.Duration `yaml:"connect"`
	Ack              time.Duration `yaml:"ack"`
	HeartbeatSilence time.Duration `yaml:"heartbeat_silence"`
	Handshake        time.Duration `yaml:"handshake"`
}

// GatewayReconnect configures connection retry backoff.
type GatewayReconnect struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`

	// MaxRetries bounds consecutive failed attempts. 0 retries forever.
	MaxRetries int `yaml:"max_retries"`
}

// PersistenceEnabled reports whether snapshots are loaded and saved for this gateway.
func (g GatewayConfig) PersistenceEnabled() bool {
	return g.Persistence == nil || *g.Persistence
}

// Address returns the string handed to the transport's Open.
func (g GatewayConfig) Address() string {
	switch g.Type {
	case GatewayTypeTCP:
		return fmt.Sprintf("%s:%d", g.Device, g.TCPPort)
	default:
		return g.Device
	}
}

// NodeName returns the configured friendly name for a node, if any.
func (g GatewayConfig) NodeName(nodeID int) string {
	return g.Nodes[nodeID].Name
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Per-gateway defaults (baud rate, port, version, timeouts)
//
// Environment variables follow the pattern: MYSENSORS_SECTION_KEY
// For example: MYSENSORS_DATABASE_PATH, MYSENSORS_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyGatewayDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "MySensors",
		},
		Database: DatabaseConfig{
			Path:        "./data/mysensors.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mysensorsd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "mysensors",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Persistence: PersistenceConfig{
			Backend:      PersistenceSQLite,
			Directory:    "./data",
			SaveInterval: time.Minute,
		},
	}
}

// applyGatewayDefaults fills unset gateway fields. It runs after YAML decoding
// because list elements cannot carry defaults from defaultConfig.
func (c *Config) applyGatewayDefaults() {
	for i := range c.Gateways {
		g := &c.Gateways[i]
		if g.Type == "" {
			g.Type = inferGatewayType(g.Device)
		}
		if g.BaudRate == 0 {
			g.BaudRate = DefaultBaudRate
		}
		if g.TCPPort == 0 {
			g.TCPPort = DefaultTCPPort
		}
		if g.Version == "" {
			g.Version = DefaultProtocolVersion
		}
		if g.Timeouts.Connect == 0 {
			g.Timeouts.Connect = 10 * time.Second
		}
		if g.Timeouts.Ack == 0 {
			g.Timeouts.Ack = 5 * time.Second
		}
		if g.Timeouts.HeartbeatSilence == 0 {
			g.Timeouts.HeartbeatSilence = 10 * time.Minute
		}
		if g.Timeouts.Handshake == 0 {
			g.Timeouts.Handshake = 15 * time.Second
		}
		if g.Reconnect.InitialDelay == 0 {
			g.Reconnect.InitialDelay = time.Second
		}
		if g.Reconnect.MaxDelay == 0 {
			g.Reconnect.MaxDelay = 60 * time.Second
		}
		if g.PersistenceFile == "" && c.Persistence.Backend == PersistenceJSON {
			g.PersistenceFile = filepath.Join(c.Persistence.Directory, "mysensors"+g.ID+".json")
		}
	}
}

// inferGatewayType guesses the transport from the device string.
func inferGatewayType(device string) string {
	switch {
	case device == GatewayTypeMQTT:
		return GatewayTypeMQTT
	case strings.HasPrefix(device, "/dev/"), strings.HasPrefix(strings.ToUpper(device), "COM"):
		return GatewayTypeSerial
	default:
		return GatewayTypeTCP
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MYSENSORS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("MYSENSORS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MYSENSORS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MYSENSORS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MYSENSORS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MYSENSORS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MYSENSORS_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("MYSENSORS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("MYSENSORS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Persistence.Backend {
	case PersistenceSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite persistence")
		}
	case PersistenceJSON:
	default:
		errs = append(errs, fmt.Sprintf("persistence.backend %q must be sqlite or json", c.Persistence.Backend))
	}
	if c.Persistence.SaveInterval <= 0 {
		errs = append(errs, "persistence.save_interval must be positive")
	}

	if len(c.Gateways) == 0 {
		errs = append(errs, "at least one gateway is required")
	}

	errs = append(errs, c.validateGateways()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateGateways checks per-gateway fields and cross-gateway uniqueness.
func (c *Config) validateGateways() []string {
	var errs []string
	ids := make(map[string]bool, len(c.Gateways))
	files := make(map[string]bool, len(c.Gateways))
	devices := make(map[string]bool, len(c.Gateways))
	withFile := 0

	for i, g := range c.Gateways {
		prefix := fmt.Sprintf("gateways[%d]", i)

		if g.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else if ids[g.ID] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, g.ID))
		}
		ids[g.ID] = true

		if g.Device == "" {
			errs = append(errs, prefix+".device is required")
		}

		switch g.Type {
		case GatewayTypeSerial:
			if g.BaudRate <= 0 {
				errs = append(errs, prefix+".baud_rate must be positive")
			}
		case GatewayTypeTCP:
			if g.TCPPort < 1 || g.TCPPort > 65535 {
				errs = append(errs, prefix+".tcp_port must be between 1 and 65535")
			}
		case GatewayTypeMQTT:
			if !c.MQTT.Enabled {
				errs = append(errs, prefix+" uses mqtt but mqtt.enabled is false")
			}
			if g.TopicInPrefix == "" || g.TopicOutPrefix == "" {
				errs = append(errs, prefix+" mqtt gateways need topic_in_prefix and topic_out_prefix")
			}
			if strings.ContainsAny(g.TopicOutPrefix, "+#") {
				errs = append(errs, prefix+".topic_out_prefix must not contain wildcards")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.type %q must be serial, tcp or mqtt", prefix, g.Type))
		}

		if g.Type != GatewayTypeMQTT {
			addr := g.Type + ":" + g.Address()
			if devices[addr] {
				errs = append(errs, fmt.Sprintf("%s.device %q is used by another gateway", prefix, g.Device))
			}
			devices[addr] = true
		}

		if err := protocol.ValidateVersion(g.Version); err != nil {
			errs = append(errs, fmt.Sprintf("%s.version %q is not a supported protocol version", prefix, g.Version))
		}

		if g.PersistenceFile != "" {
			withFile++
			if !strings.HasSuffix(g.PersistenceFile, ".json") && !strings.HasSuffix(g.PersistenceFile, ".pickle") {
				errs = append(errs, fmt.Sprintf("%s.persistence_file %q does not end in .json or .pickle", prefix, g.PersistenceFile))
			}
			if files[g.PersistenceFile] {
				errs = append(errs, fmt.Sprintf("%s.persistence_file %q is used by another gateway", prefix, g.PersistenceFile))
			}
			files[g.PersistenceFile] = true
		}

		for id := range g.Nodes {
			if id < 1 || id > 254 {
				errs = append(errs, fmt.Sprintf("%s.nodes: node id %d out of range 1-254", prefix, id))
			}
		}

		if g.Timeouts.Connect <= 0 {
			errs = append(errs, prefix+".timeouts.connect must be positive")
		}
		if g.Timeouts.Ack <= 0 {
			errs = append(errs, prefix+".timeouts.ack must be positive")
		}
		if g.Timeouts.HeartbeatSilence <= 0 {
			errs = append(errs, prefix+".timeouts.heartbeat_silence must be positive")
		}
		if g.Timeouts.Handshake <= 0 {
			errs = append(errs, prefix+".timeouts.handshake must be positive")
		}
		if g.Reconnect.InitialDelay <= 0 || g.Reconnect.MaxDelay < g.Reconnect.InitialDelay {
			errs = append(errs, prefix+".reconnect delays must be positive with max_delay >= initial_delay")
		}
		if g.Reconnect.MaxRetries < 0 {
			errs = append(errs, prefix+".reconnect.max_retries must not be negative")
		}
	}

	if withFile > 0 && withFile < len(c.Gateways) {
		errs = append(errs, "persistence_file must be set for every gateway if it is set for any")
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
