package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

const (
	DefaultPort             = 3000
	DefaultAssetName        = "upload.pcd"
	DefaultChunkSize        = 10240
	DefaultCleanupSpec      = "*/30 * * * *"
	DefaultCleanupMaxAgeMin = 60
)

type Config struct {
	Port          int              `json:"port"`
	AssetName     string           `json:"asset_name"`
	DBPath        string           `json:"db_path"`
	LogConfig     logger.LogConfig `json:"log_config"`
	FileStore     FileStoreConfig  `json:"file_store"`
	Cache         CacheConfig      `json:"cache"`
	Upload        UploadConfig     `json:"upload"`
	Cleanup       CleanupConfig    `json:"cleanup"`
	CORSAllowlist []string         `json:"cors_allowlist"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type CacheConfig struct {
	Size       int `json:"size"`
	TTLSeconds int `json:"ttl_seconds"`
}

// UploadConfig controls the upload transport and the slot overwrite policy.
type UploadConfig struct {
	Overwrite           bool   `json:"overwrite"`
	ChunkSize           int    `json:"chunk_size"`
	TransmissionDelayMs int    `json:"transmission_delay_ms"`
	MaxFileSize         int64  `json:"max_file_size"`
	StagingDir          string `json:"staging_dir"`
	// ConnectIntervalMs throttles channel opens per client address; 0 disables.
	ConnectIntervalMs   int    `json:"connect_interval_ms"`
}

type CleanupConfig struct {
	Spec          string `json:"spec"`
	MaxAgeMinutes int    `json:"max_age_minutes"`
	// HistoryDays prunes upload history older than this; 0 keeps everything.
	HistoryDays   int    `json:"history_days"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	c.AssetName = strings.TrimSpace(c.AssetName)
	if c.AssetName == "" {
		c.AssetName = DefaultAssetName
	}
	if strings.ContainsAny(c.AssetName, `/\`) {
		return fmt.Errorf("asset_name must not contain path separators")
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	c.Upload.ApplyDefaults()
	if c.Upload.ChunkSize < 0 || c.Upload.TransmissionDelayMs < 0 || c.Upload.MaxFileSize < 0 || c.Upload.ConnectIntervalMs < 0 {
		return fmt.Errorf("upload sizes and intervals must not be negative")
	}
	if c.Cleanup.Spec == "" {
		c.Cleanup.Spec = DefaultCleanupSpec
	}
	if c.Cleanup.MaxAgeMinutes <= 0 {
		c.Cleanup.MaxAgeMinutes = DefaultCleanupMaxAgeMin
	}
	if c.Cleanup.HistoryDays < 0 {
		return fmt.Errorf("cleanup.history_days must not be negative")
	}
	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
	switch c.FileStore.Type {
	case "local", "s3", "bbolt":
	default:
		return fmt.Errorf("file_store.type must be local, s3 or bbolt")
	}
	if c.FileStore.Data == nil {
		if c.FileStore.Type != "local" {
			return fmt.Errorf("file_store.data is required for %s store", c.FileStore.Type)
		}
		c.FileStore.Data = map[string]interface{}{"dir": "data"}
	}
	return nil
}

func (u *UploadConfig) ApplyDefaults() {
	if u.ChunkSize == 0 {
		u.ChunkSize = DefaultChunkSize
	}
	if u.StagingDir == "" {
		u.StagingDir = os.TempDir()
	}
}
