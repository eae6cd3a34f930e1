package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

const validNodeYAML = `
node:
  id: "n1"
  listen: "0.0.0.0:9447"
  data_dir: /tmp/quoradb/n1
cluster:
  - id: "n1"
    api_addr: "127.0.0.1:9447"
    client_addr: "127.0.0.1:9447"
  - id: "n2"
    api_addr: "127.0.0.1:9448"
    client_addr: "127.0.0.1:9448"
  - id: "n3"
    api_addr: "127.0.0.1:9449"
    client_addr: "127.0.0.1:9449"
secret: "test-secret"
storages:
  default:
    base_dir: /tmp/quoradb/backups
`

func TestLoadNodeConfig_Valid(t *testing.T) {
	cfgPath := writeTempConfig(t, validNodeYAML)
	cfg, err := LoadNodeConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Node.ID != "n1" {
		t.Errorf("expected node.id 'n1', got %q", cfg.Node.ID)
	}
	if cfg.Node.Advertise != cfg.Node.Listen {
		t.Errorf("expected advertise to default to listen, got %q vs %q", cfg.Node.Advertise, cfg.Node.Listen)
	}
	if len(cfg.Cluster) != 3 {
		t.Fatalf("expected 3 cluster members, got %d", len(cfg.Cluster))
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default logging level 'info', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected default logging format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Health.Listen != "127.0.0.1:8848" {
		t.Errorf("expected default health.listen, got %q", cfg.Health.Listen)
	}
	if len(cfg.Health.ParsedCIDRs) != 1 {
		t.Fatalf("expected loopback-only default CIDR, got %d entries", len(cfg.Health.ParsedCIDRs))
	}
}

func TestLoadNodeConfig_MissingID(t *testing.T) {
	content := `
node:
  listen: "0.0.0.0:9447"
  data_dir: /tmp/quoradb/n1
cluster:
  - id: "n1"
    api_addr: "127.0.0.1:9447"
secret: "s"
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadNodeConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for missing node.id")
	}
}

func TestLoadNodeConfig_MissingSecret(t *testing.T) {
	content := `
node:
  id: "n1"
  listen: "0.0.0.0:9447"
  data_dir: /tmp/quoradb/n1
cluster:
  - id: "n1"
    api_addr: "127.0.0.1:9447"
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadNodeConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestLoadNodeConfig_MissingCluster(t *testing.T) {
	content := `
node:
  id: "n1"
  listen: "0.0.0.0:9447"
  data_dir: /tmp/quoradb/n1
cluster: []
secret: "s"
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadNodeConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for empty cluster")
	}
}

func TestLoadNodeConfig_ClusterMemberMissingClientAddr(t *testing.T) {
	content := `
node:
  id: "n1"
  listen: "0.0.0.0:9447"
  data_dir: /tmp/quoradb/n1
cluster:
  - id: "n1"
    api_addr: "127.0.0.1:9447"
secret: "s"
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadNodeConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for cluster member missing client_addr")
	}
}

func TestLoadNodeConfig_ClusterMemberMissingAPIAddr(t *testing.T) {
	content := `
node:
  id: "n1"
  listen: "0.0.0.0:9447"
  data_dir: /tmp/quoradb/n1
cluster:
  - id: "n1"
    client_addr: "127.0.0.1:9447"
secret: "s"
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadNodeConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for cluster member missing api_addr")
	}
}

func TestLoadNodeConfig_TLSPartial(t *testing.T) {
	content := validNodeYAML + `
tls:
  ca_cert: /tmp/ca.pem
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadNodeConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for partial tls config")
	}
}

func TestLoadNodeConfig_BackupRequiresKnownStorage(t *testing.T) {
	content := validNodeYAML + `
backup:
  schedule: "0 2 * * *"
  storage: "missing"
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadNodeConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for backup.storage referencing unknown storage")
	}
}

func TestLoadNodeConfig_BackupDefaultsRetain(t *testing.T) {
	content := validNodeYAML + `
backup:
  schedule: "0 2 * * *"
  storage: "default"
`
	cfgPath := writeTempConfig(t, content)
	cfg, err := LoadNodeConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backup.Retain != 5 {
		t.Errorf("expected default retain 5, got %d", cfg.Backup.Retain)
	}
}

func TestLoadNodeConfig_HealthCIDRAllowlist(t *testing.T) {
	content := validNodeYAML + `
health:
  allow_origins:
    - "10.0.0.0/8"
    - "192.168.1.10"
`
	cfgPath := writeTempConfig(t, content)
	cfg, err := LoadNodeConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Health.ParsedCIDRs) != 2 {
		t.Fatalf("expected 2 parsed CIDRs, got %d", len(cfg.Health.ParsedCIDRs))
	}
}

func TestLoadNodeConfig_HealthInvalidOrigin(t *testing.T) {
	content := validNodeYAML + `
health:
  allow_origins:
    - "not-an-ip"
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadNodeConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for invalid allow_origins entry")
	}
}

func TestLoadNodeConfig_StorageCompressionMode(t *testing.T) {
	content := `
node:
  id: "n1"
  listen: "0.0.0.0:9447"
  data_dir: /tmp/quoradb/n1
cluster:
  - id: "n1"
    api_addr: "127.0.0.1:9447"
    client_addr: "127.0.0.1:9447"
secret: "s"
storages:
  default:
    base_dir: /tmp/quoradb/backups
    compression_mode: "zst"
`
	cfgPath := writeTempConfig(t, content)
	cfg, err := LoadNodeConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := cfg.GetStorage("default")
	if !ok {
		t.Fatal("expected storage 'default' to exist")
	}
	if s.FileExtension() != ".tar.zst" {
		t.Errorf("expected .tar.zst, got %s", s.FileExtension())
	}
}

func TestLoadNodeConfig_FileNotFound(t *testing.T) {
	_, err := LoadNodeConfig("/nonexistent/path/node.yaml")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadNodeConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeTempConfig(t, "{{invalid yaml}}")
	_, err := LoadNodeConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"1kb":  1024,
		"2mb":  2 * 1024 * 1024,
		"1gb":  1024 * 1024 * 1024,
		"512":  512,
		"10b":  10,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseByteSize_Invalid(t *testing.T) {
	if _, err := ParseByteSize("not-a-size"); err == nil {
		t.Fatal("expected error for invalid size string")
	}
}
