package config

import (
	"path/filepath"
	"time"
)

// StorageConfig shapes the job store, snapshot file and PDF retention.
type StorageConfig struct {
	// RedisAddr selects the durable store; empty means in-memory (tests,
	// single-shot CLI runs).
	RedisAddr        string `yaml:"redis_addr,omitempty"`
	RedisDB          int    `yaml:"redis_db,omitempty"`
	AssessmentTTLSec int    `yaml:"assessment_ttl_sec"`
	BatchTTLSec      int    `yaml:"batch_ttl_sec"`
	PDFRetentionSec  int    `yaml:"pdf_retention_sec"`
	// SnapshotPath overrides the default <workspace>/.medscreen/state.json.
	SnapshotPath string `yaml:"snapshot_path,omitempty"`
	// PDFDir overrides the default <workspace>/.medscreen/pdfs.
	PDFDir string `yaml:"pdf_dir,omitempty"`
	// AuditDBPath overrides the default <workspace>/.medscreen/audit.db.
	AuditDBPath string `yaml:"audit_db_path,omitempty"`
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		AssessmentTTLSec: 24 * 3600,
		BatchTTLSec:      7 * 24 * 3600,
		PDFRetentionSec:  3600,
	}
}

func (s StorageConfig) AssessmentTTL() time.Duration {
	return time.Duration(s.AssessmentTTLSec) * time.Second
}

func (s StorageConfig) BatchTTL() time.Duration {
	return time.Duration(s.BatchTTLSec) * time.Second
}

func (s StorageConfig) PDFRetention() time.Duration {
	return time.Duration(s.PDFRetentionSec) * time.Second
}

// ResolveSnapshotPath returns the snapshot file path for a workspace.
func (s StorageConfig) ResolveSnapshotPath(workspace string) string {
	if s.SnapshotPath != "" {
		return s.SnapshotPath
	}
	return filepath.Join(workspace, ".medscreen", "state.json")
}

// ResolvePDFDir returns the stored-PDF directory for a workspace.
func (s StorageConfig) ResolvePDFDir(workspace string) string {
	if s.PDFDir != "" {
		return s.PDFDir
	}
	return filepath.Join(workspace, ".medscreen", "pdfs")
}

// ResolveAuditDBPath returns the audit log path for a workspace.
func (s StorageConfig) ResolveAuditDBPath(workspace string) string {
	if s.AuditDBPath != "" {
		return s.AuditDBPath
	}
	return filepath.Join(workspace, ".medscreen", "audit.db")
}

// LoggingConfig mirrors internal/logging's options. It lives here so the
// root config is one document; logging reads a copy at Initialize time.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info"}
}
