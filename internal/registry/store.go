package registry

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	filePermissions = 0o644
	dirPermissions  = 0o755
	yamlIndent      = 2
)

// Load reads and parses a genome configuration file. The result is not tied
// to the file: changes are never written back.
func Load(fsys afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("registry: parsing %s: %w", path, err)
	}

	if cfg.Genomes == nil {
		cfg.Genomes = make(map[string]*Genome)
	}

	return cfg, nil
}

// Store is a writable configuration tree bound to a file. The embedded
// Config is the in-memory view; Write makes it durable and Reload discards
// it in favor of the last durable snapshot.
type Store struct {
	*Config

	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// Open loads an existing configuration file for writing.
func Open(fsys afero.Fs, path string, logger *slog.Logger) (*Store, error) {
	cfg, err := Load(fsys, path)
	if err != nil {
		return nil, err
	}

	logger.Debug("opened writable registry", slog.String("path", path))

	return &Store{Config: cfg, fs: fsys, path: path, logger: logger}, nil
}

// MakeWritable creates a Store at path seeded with a deep copy of src. The
// file is written immediately so a later Reload has a snapshot to return to.
func MakeWritable(fsys afero.Fs, src *Config, path string, logger *slog.Logger) (*Store, error) {
	cfg, err := src.Clone()
	if err != nil {
		return nil, err
	}

	s := &Store{Config: cfg, fs: fsys, path: path, logger: logger}
	if err := s.Write(); err != nil {
		return nil, err
	}

	logger.Info("created writable registry", slog.String("path", path))

	return s, nil
}

// Exists reports whether a configuration file is present at path.
func Exists(fsys afero.Fs, path string) (bool, error) {
	_, err := fsys.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("registry: checking %s: %w", path, err)
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Write persists the in-memory tree atomically (temp file + rename).
func (s *Store) Write() error {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(yamlIndent)

	if err := enc.Encode(s.Config); err != nil {
		return fmt.Errorf("registry: encoding %s: %w", s.path, err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("registry: encoding %s: %w", s.path, err)
	}

	if err := atomicWriteFile(s.fs, s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("registry: writing %s: %w", s.path, err)
	}

	s.logger.Debug("registry written", slog.String("path", s.path))

	return nil
}

// Reload replaces the in-memory tree with the file's current contents.
func (s *Store) Reload() error {
	cfg, err := Load(s.fs, s.path)
	if err != nil {
		return err
	}

	s.Config = cfg
	s.logger.Debug("registry reloaded", slog.String("path", s.path))

	return nil
}

func atomicWriteFile(fsys afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := afero.TempFile(fsys, dir, ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			fsys.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := fsys.Chmod(tempPath, filePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := fsys.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
