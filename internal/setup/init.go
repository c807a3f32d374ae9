// Package setup creates the .cistatsd/ directory for a new installation.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/cistatsd/internal/config"
	atomicyaml "github.com/msageha/cistatsd/internal/yaml"
	"github.com/msageha/cistatsd/templates"
)

// DirName is the directory holding config, state, locks and logs.
const DirName = ".cistatsd"

// Options fill in the template before it is written. Zero values keep the template default.
type Options struct {
	StatsdHost string
	StatsdPort int
	Prefix     string
	JenkinsURL string
}

// Run initializes projectDir/.cistatsd and returns its path.
func Run(projectDir string, opts Options) (string, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, DirName)
	if _, err := os.Stat(base); err == nil {
		return "", fmt.Errorf("%s already exists", base)
	}

	content, err := generateConfig(opts)
	if err != nil {
		return "", fmt.Errorf("generate config: %w", err)
	}

	for _, d := range []string{"state", "locks", "logs", "quarantine"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	// The file may hold an API token.
	if err := atomicyaml.AtomicWriteRaw(filepath.Join(base, config.FileName), content, 0600); err != nil {
		return "", fmt.Errorf("write %s: %w", config.FileName, err)
	}
	return base, nil
}

// generateConfig edits the template in place so its comments survive.
func generateConfig(opts Options) ([]byte, error) {
	data, err := fs.ReadFile(templates.FS, config.FileName)
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var doc yamlv3.Node
	if err := yamlv3.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	overrides := []struct {
		path  []string
		tag   string
		value string
		set   bool
	}{
		{[]string{"statsd", "host"}, "!!str", opts.StatsdHost, opts.StatsdHost != ""},
		{[]string{"statsd", "port"}, "!!int", strconv.Itoa(opts.StatsdPort), opts.StatsdPort != 0},
		{[]string{"statsd", "prefix"}, "!!str", opts.Prefix, opts.Prefix != ""},
		{[]string{"jenkins", "url"}, "!!str", opts.JenkinsURL, opts.JenkinsURL != ""},
	}
	for _, o := range overrides {
		if !o.set {
			continue
		}
		if err := setScalar(&doc, o.path, o.tag, o.value); err != nil {
			return nil, err
		}
	}

	out, err := yamlv3.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	if _, err := config.Parse(out); err != nil {
		return nil, err
	}
	return out, nil
}

func setScalar(doc *yamlv3.Node, path []string, tag, value string) error {
	node := doc
	if node.Kind == yamlv3.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	for _, key := range path {
		next := mappingValue(node, key)
		if next == nil {
			return fmt.Errorf("config template has no key %q", key)
		}
		node = next
	}
	if node.Kind != yamlv3.ScalarNode {
		return fmt.Errorf("config key %v is not a scalar", path)
	}

	node.Value = value
	node.Tag = tag
	node.Style = 0
	return nil
}

func mappingValue(node *yamlv3.Node, key string) *yamlv3.Node {
	if node.Kind != yamlv3.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
