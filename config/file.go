package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"mapring/discovery"
	"mapring/logger"
)

type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     logger.Config `yaml:"log"`
}

type NodeConfig struct {
	// ID defaults to a random uuid.
	ID string `yaml:"id"`
	// Host defaults to the first non-loopback IPv4 address.
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	BusOffset int    `yaml:"bus_offset"`
	DataDir   string `yaml:"data_dir"`
}

type ClusterConfig struct {
	// Seed is the address of any member to join; empty starts a new cluster.
	Seed string `yaml:"seed"`
	// Timeout bounds how long a registration waits for its Accepted message.
	Timeout time.Duration `yaml:"timeout"`
	// HopTimeout bounds a single bus hop.
	HopTimeout time.Duration `yaml:"hop_timeout"`
	// Reuse is "never" or "same-members".
	Reuse string `yaml:"reuse"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Load reads path (if it exists), fills defaults and applies MAPRING_*
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	c.setDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Node.Port == 0 {
		c.Node.Port = 8008
	}
	if c.Node.BusOffset == 0 {
		c.Node.BusOffset = 10000
	}
	if c.Node.DataDir == "" {
		c.Node.DataDir = "mapringdb"
	}
	if c.Cluster.Timeout == 0 {
		c.Cluster.Timeout = 10 * time.Second
	}
	if c.Cluster.HopTimeout == 0 {
		c.Cluster.HopTimeout = 2 * time.Second
	}
	if c.Cluster.Reuse == "" {
		c.Cluster.Reuse = "same-members"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Env == "" {
		c.Log.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	// The id travels as one field of the bus line protocol.
	if strings.IndexFunc(c.Node.ID, unicode.IsSpace) >= 0 {
		return fmt.Errorf("node.id %q contains whitespace", c.Node.ID)
	}
	if c.Node.Port <= 0 || c.Node.Port > 0xFFFF {
		return fmt.Errorf("node.port %d out of range", c.Node.Port)
	}
	if p := c.Node.Port + c.Node.BusOffset; p <= 0 || p > 0xFFFF {
		return fmt.Errorf("bus port %d out of range", p)
	}
	if c.Cluster.Timeout < 0 || c.Cluster.HopTimeout < 0 {
		return errors.New("cluster timeouts must be positive")
	}
	if _, err := discovery.ParseReuseStrategy(c.Cluster.Reuse); err != nil {
		return err
	}
	return nil
}

// ReuseStrategy is the parsed cluster.reuse value.
func (c *Config) ReuseStrategy() discovery.ReuseStrategy {
	s, _ := discovery.ParseReuseStrategy(c.Cluster.Reuse)
	return s
}

// ---- env helpers ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

func (c *Config) applyEnvOverrides() {
	// NODE
	if v, ok := getEnvStr("MAPRING_NODE_ID"); ok {
		c.Node.ID = v
	}
	if v, ok := getEnvStr("MAPRING_NODE_HOST"); ok {
		c.Node.Host = v
	}
	if v, ok := getEnvInt("MAPRING_NODE_PORT"); ok {
		c.Node.Port = v
	}
	if v, ok := getEnvInt("MAPRING_BUS_OFFSET"); ok {
		c.Node.BusOffset = v
	}
	if v, ok := getEnvStr("MAPRING_DATA_DIR"); ok {
		c.Node.DataDir = v
	}

	// CLUSTER
	if v, ok := getEnvStr("MAPRING_SEED"); ok {
		c.Cluster.Seed = v
	}
	if v, ok := getEnvDur("MAPRING_TIMEOUT"); ok {
		c.Cluster.Timeout = v
	}
	if v, ok := getEnvDur("MAPRING_HOP_TIMEOUT"); ok {
		c.Cluster.HopTimeout = v
	}
	if v, ok := getEnvStr("MAPRING_REUSE"); ok {
		c.Cluster.Reuse = strings.ToLower(v)
	}

	// HTTP
	if v, ok := getEnvStr("MAPRING_HTTP_ADDR"); ok {
		c.HTTP.Addr = v
	}

	// LOG
	if v, ok := getEnvStr("MAPRING_LOG_ENV"); ok {
		c.Log.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("MAPRING_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}
