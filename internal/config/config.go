package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultBlockSize is the block size used when none is configured.
const DefaultBlockSize = 1 << 20

// Environment variables overriding the default locations.
const (
	EnvConfigPath = "ARC_CONFIG_PATH"
	EnvHome       = "ARC_HOME"
)

// Default locations relative to the user's home directory.
var (
	DefaultConfigPath = []string{".config", "arc.toml"}
	DefaultHome       = []string{".local", "share", "arc"}
)

// Directories under the base directory.
const (
	LogDirName   = "log"
	StoreDirName = "store"
	KeysDirName  = "keys"
	DBDirName    = "db"
	StateDirName = "cbt"
)

// Config represents the main configuration for arc.
type Config struct {
	HostID    string         `toml:"host_id" validate:"required"`
	BaseDir   string         `toml:"base_dir" validate:"required"`
	LogDir    string         `toml:"log_dir"`
	LogLevel  string         `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	BlockSize int64          `toml:"block_size" validate:"gte=0"`
	Store     StoreConfig    `toml:"store"`
	Codec     CodecConfig    `toml:"codec"`
	Pools     PoolsConfig    `toml:"pools"`
	Database  DatabaseConfig `toml:"database"`
}

// StoreConfig represents configuration for the content store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type" validate:"oneof=memory filesystem s3 badger sqlite"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty" validate:"required_if=Type filesystem"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Badger-specific fields (only used when Type == "badger")
	BadgerDir string `toml:"badger_dir,omitempty" validate:"required_if=Type badger"`

	// SQLite-specific fields (only used when Type == "sqlite")
	SQLitePath string `toml:"sqlite_path,omitempty" validate:"required_if=Type sqlite"`
}

// CodecConfig selects the transforms applied to block payloads.
type CodecConfig struct {
	Compression    bool   `toml:"compression"`
	Cipher         string `toml:"cipher" validate:"omitempty,oneof=none age test"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path" validate:"required_if=Cipher age"`
	PrivateKeyPath string `toml:"private_key_path" validate:"required_if=Cipher age"`
}

// PoolsConfig sizes the worker pools. Zero selects the default size.
type PoolsConfig struct {
	Disk    int `toml:"disk" validate:"gte=0"`
	Archive int `toml:"archive" validate:"gte=0"`
	Child   int `toml:"child" validate:"gte=0"`
}

// DatabaseConfig represents configuration for the operation history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite memory"`                   // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"` // only used for type=sqlite
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:    hostID,
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, LogDirName),
		LogLevel:  "info",
		BlockSize: DefaultBlockSize,
		Store: StoreConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, StoreDirName),
		},
		Codec: CodecConfig{
			Compression:    true,
			Cipher:         "none",
			PublicKeyPath:  filepath.Join(baseDir, KeysDirName, "arc.pub"),
			PrivateKeyPath: filepath.Join(baseDir, KeysDirName, "arc.key"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, DBDirName),
		},
	}
}

// StateDir is where image sources keep their changed-block maps.
func (c *Config) StateDir() string {
	return filepath.Join(c.BaseDir, StateDirName)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
