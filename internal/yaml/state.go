package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

// ErrCorrupt marks a state file that could not be parsed or carries the wrong header.
var ErrCorrupt = errors.New("corrupt state file")

type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// ReadState decodes a state file into out after checking its header.
// It reports false with a nil error when the file does not exist.
func ReadState(path, fileType string, out any) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if header.SchemaVersion != CurrentSchemaVersion {
		return false, fmt.Errorf("%w: %s: schema_version %d, want %d", ErrCorrupt, path, header.SchemaVersion, CurrentSchemaVersion)
	}
	if header.FileType != fileType {
		return false, fmt.Errorf("%w: %s: file_type %q, want %q", ErrCorrupt, path, header.FileType, fileType)
	}
	if err := yamlv3.Unmarshal(content, out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return true, nil
}

// Quarantine moves a corrupt file into quarantineDir so the next write starts fresh.
func Quarantine(quarantineDir, filePath string) (string, error) {
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405"))
	dst := filepath.Join(quarantineDir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}
