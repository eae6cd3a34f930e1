package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig is the complete configuration of a quoradb-node process: one
// Raft voter, one SQL/cache/lock store, and the client-stream listener that
// exposes them.
type NodeConfig struct {
	Node     NodeInfo               `yaml:"node"`
	Cluster  []ClusterMember        `yaml:"cluster"`
	TLS      TLSInfo                `yaml:"tls"`
	Secret   string                 `yaml:"secret"`
	Logging  LoggingInfo            `yaml:"logging"`
	Storages map[string]StorageInfo `yaml:"storages"`
	Backup   BackupScheduleConfig   `yaml:"backup"`
	Health   HealthConfig           `yaml:"health"`
	Raft     RaftTuning             `yaml:"raft"`
}

// NodeInfo identifies this node within the cluster and where it listens.
type NodeInfo struct {
	ID        string `yaml:"id"`
	Listen    string `yaml:"listen"`
	Advertise string `yaml:"advertise"` // defaults to Listen when empty
	DataDir   string `yaml:"data_dir"`
}

// ClusterMember is one voter in the initial Raft configuration, used to
// bootstrap a fresh data directory. APIAddr is where hashicorp/raft's own
// network transport dials this member; ClientAddr is where its
// client-stream WebSocket listener can be reached, used by the Leader
// Resolution & Retry Shim (client.go) to forward a request when this
// member becomes leader.
type ClusterMember struct {
	ID         string `yaml:"id"`
	APIAddr    string `yaml:"api_addr"`
	ClientAddr string `yaml:"client_addr"`
}

// TLSInfo carries the mTLS material shared by the Raft transport and the
// client-stream listener.
type TLSInfo struct {
	CACert string `yaml:"ca_cert"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`
}

// Enabled reports whether TLS material was configured at all.
func (t TLSInfo) Enabled() bool {
	return t.CACert != "" || t.Cert != "" || t.Key != ""
}

// LoggingInfo configures the node's structured logger and, optionally, a
// per-session trace log directory.
type LoggingInfo struct {
	Level           string `yaml:"level"`   // default: info
	Format          string `yaml:"format"`  // default: json
	SessionTraceDir string `yaml:"session_trace_dir"`
}

// StorageInfo configures one named backup destination and its rotation /
// compression policy.
type StorageInfo struct {
	BaseDir         string `yaml:"base_dir"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	MaxBackups      int    `yaml:"max_backups"`      // default: 5
	CompressionMode string `yaml:"compression_mode"` // gzip|zst (default: gzip)
}

// IsRemote reports whether this storage uploads its local artifact to S3.
func (s StorageInfo) IsRemote() bool {
	return s.Bucket != ""
}

// FileExtension returns the file extension backups written to this storage
// should carry.
func (s StorageInfo) FileExtension() string {
	switch s.CompressionMode {
	case "zst":
		return ".tar.zst"
	default:
		return ".tar.gz"
	}
}

// BackupScheduleConfig configures the node's single periodic backup job.
// An empty Schedule disables scheduling entirely.
type BackupScheduleConfig struct {
	Schedule string `yaml:"schedule"` // cron expression, e.g. "0 2 * * *"
	Storage  string `yaml:"storage"`  // must name an entry in Storages
	Retain   int    `yaml:"retain"`   // default: 5
}

// HealthConfig configures the node's observability HTTP listener.
type HealthConfig struct {
	Listen       string        `yaml:"listen"` // default: 127.0.0.1:8848
	AllowOrigins []string      `yaml:"allow_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ParsedCIDRs is populated by validate(); it never comes from YAML.
	ParsedCIDRs []*net.IPNet `yaml:"-"`
}

// RaftTuning exposes the subset of hashicorp/raft's Config the operator may
// want to override. A zero value for any field leaves raft.DefaultConfig()'s
// value in place.
type RaftTuning struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	ElectionTimeout  time.Duration `yaml:"election_timeout"`
	CommitTimeout    time.Duration `yaml:"commit_timeout"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// GetStorage returns the named StorageInfo, or false if it isn't configured.
func (c *NodeConfig) GetStorage(name string) (StorageInfo, bool) {
	s, ok := c.Storages[name]
	return s, ok
}

// LoadNodeConfig reads and validates a node's YAML configuration file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading node config: %w", err)
	}

	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing node config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating node config: %w", err)
	}

	return &cfg, nil
}

func (c *NodeConfig) validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Node.Listen == "" {
		return fmt.Errorf("node.listen is required")
	}
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}
	if c.Node.Advertise == "" {
		c.Node.Advertise = c.Node.Listen
	}
	if c.Secret == "" {
		return fmt.Errorf("secret is required")
	}
	if len(c.Cluster) == 0 {
		return fmt.Errorf("cluster must have at least one entry")
	}
	for i, m := range c.Cluster {
		if m.ID == "" {
			return fmt.Errorf("cluster[%d].id is required", i)
		}
		if m.APIAddr == "" {
			return fmt.Errorf("cluster[%d].api_addr is required", i)
		}
		if m.ClientAddr == "" {
			return fmt.Errorf("cluster[%d].client_addr is required", i)
		}
	}

	tlsFieldsSet := 0
	if c.TLS.CACert != "" {
		tlsFieldsSet++
	}
	if c.TLS.Cert != "" {
		tlsFieldsSet++
	}
	if c.TLS.Key != "" {
		tlsFieldsSet++
	}
	if tlsFieldsSet != 0 && tlsFieldsSet != 3 {
		return fmt.Errorf("tls.ca_cert, tls.cert and tls.key must all be set, or all left empty")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	for name, s := range c.Storages {
		if s.MaxBackups < 1 {
			s.MaxBackups = 5
		}
		if s.CompressionMode == "" {
			s.CompressionMode = "gzip"
		}
		s.CompressionMode = strings.ToLower(strings.TrimSpace(s.CompressionMode))
		if s.CompressionMode != "gzip" && s.CompressionMode != "zst" {
			return fmt.Errorf("storages.%s.compression_mode must be gzip or zst, got %q", name, s.CompressionMode)
		}
		c.Storages[name] = s
	}

	if c.Backup.Schedule != "" {
		if c.Backup.Storage == "" {
			return fmt.Errorf("backup.storage is required when backup.schedule is set")
		}
		if _, ok := c.Storages[c.Backup.Storage]; !ok {
			return fmt.Errorf("backup.storage %q is not a configured storage", c.Backup.Storage)
		}
		if c.Backup.Retain <= 0 {
			c.Backup.Retain = 5
		}
	}

	if c.Health.Listen == "" {
		c.Health.Listen = "127.0.0.1:8848"
	}
	if c.Health.ReadTimeout <= 0 {
		c.Health.ReadTimeout = 5 * time.Second
	}
	if c.Health.WriteTimeout <= 0 {
		c.Health.WriteTimeout = 15 * time.Second
	}
	if len(c.Health.AllowOrigins) == 0 {
		_, loopback, _ := net.ParseCIDR("127.0.0.1/32")
		c.Health.ParsedCIDRs = []*net.IPNet{loopback}
		return nil
	}
	for _, origin := range c.Health.AllowOrigins {
		_, cidr, err := net.ParseCIDR(origin)
		if err != nil {
			ip := net.ParseIP(strings.TrimSpace(origin))
			if ip == nil {
				return fmt.Errorf("health.allow_origins: %q is not a valid IP or CIDR", origin)
			}
			if ip.To4() != nil {
				_, cidr, _ = net.ParseCIDR(ip.String() + "/32")
			} else {
				_, cidr, _ = net.ParseCIDR(ip.String() + "/128")
			}
		}
		c.Health.ParsedCIDRs = append(c.Health.ParsedCIDRs, cidr)
	}

	return nil
}

// ParseByteSize parses a human size string such as "64mb" or a bare byte
// count into a number of bytes. Recognized suffixes, longest first so "mb"
// never matches as "b": gb, mb, kb, b.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return num, nil
}
