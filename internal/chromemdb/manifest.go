package chromemdb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pdf-rag/internal/models"
)

const (
	manifestName    = "manifest.yaml"
	manifestFormat  = "pdf-rag-index"
	manifestVersion = 1

	dataPrefix  = "index-"
	tempPattern = "index-*.tmp"
)

// manifest describes the data file that makes up a persisted index.
type manifest struct {
	Format         string    `yaml:"format"`
	Version        int       `yaml:"version"`
	DataFile       string    `yaml:"data_file"`
	Checksum       string    `yaml:"sha256"`
	Collection     string    `yaml:"collection"`
	EmbeddingModel string    `yaml:"embedding_model,omitempty"`
	Dimension      int       `yaml:"dimension"`
	Count          int       `yaml:"count"`
	Compressed     bool      `yaml:"compressed"`
	Encrypted      bool      `yaml:"encrypted"`
	CreatedAt      time.Time `yaml:"created_at"`
}

func readManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("index at %s: %w: %v", dir, models.ErrIndexLoad, err)
		}
		if foreign, ferr := foreignFiles(dir); ferr != nil {
			return nil, fmt.Errorf("index at %s: %w: %v", dir, models.ErrIndexLoad, ferr)
		} else if len(foreign) > 0 {
			return nil, fmt.Errorf("index at %s: %w: no %s but found %s",
				dir, models.ErrIndexLoad, manifestName, strings.Join(foreign, ", "))
		}
		return nil, fmt.Errorf("no index at %s: %w", dir, models.ErrIndexNotFound)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("index at %s: %w: invalid manifest: %v", dir, models.ErrIndexLoad, err)
	}
	return &m, nil
}

// check rejects manifests this build cannot read or that were built for another setup.
func (m *manifest) check(opts Options) error {
	if m.Format != manifestFormat || m.Version != manifestVersion {
		return fmt.Errorf("unsupported format %q version %d", m.Format, m.Version)
	}
	if m.DataFile == "" || m.DataFile != filepath.Base(m.DataFile) || !strings.HasPrefix(m.DataFile, dataPrefix) {
		return fmt.Errorf("invalid data file %q", m.DataFile)
	}
	if m.Collection == "" {
		return errors.New("manifest names no collection")
	}
	if m.Count < 0 || m.Dimension < 0 {
		return fmt.Errorf("invalid count %d or dimension %d", m.Count, m.Dimension)
	}
	if m.Encrypted != (opts.EncryptionKey != "") {
		return fmt.Errorf("index encrypted=%t but encryption key configured=%t", m.Encrypted, opts.EncryptionKey != "")
	}
	if opts.EmbeddingModel != "" && m.EmbeddingModel != "" && opts.EmbeddingModel != m.EmbeddingModel {
		return fmt.Errorf("index built with embedding model %q, configured %q", m.EmbeddingModel, opts.EmbeddingModel)
	}
	return nil
}

// writeManifest replaces the manifest through a rename so readers see the old or the new
// file, never a partial one.
func writeManifest(dir string, m manifest) error {
	m.CreatedAt = time.Now().UTC()
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, manifestName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, manifestName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit manifest: %w", err)
	}
	return nil
}

// foreignFiles lists the entries of dir that a persist of this package did not leave
// behind. A missing dir has none. Data and temp files of a persist that never committed
// its manifest are not foreign.
func foreignFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isIndexFile(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// dataFileName keeps the suffixes chromem uses to pick decompression and decryption.
func dataFileName(sum string, compressed, encrypted bool) string {
	name := dataPrefix + sum[:16] + ".gob"
	if compressed {
		name += ".gz"
	}
	if encrypted {
		name += ".enc"
	}
	return name
}

func isIndexFile(name string) bool {
	if strings.HasPrefix(name, manifestName+".") && strings.HasSuffix(name, ".tmp") {
		return true
	}
	return strings.HasPrefix(name, dataPrefix)
}
