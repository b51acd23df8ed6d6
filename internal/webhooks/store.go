// Package webhooks holds the channel-to-webhook configuration file, the
// outbound message sender and the URL masking used when reporting on them.
package webhooks

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Webhook maps a channel name to an incoming-webhook URL
type Webhook struct {
	Channel     string `yaml:"channel" json:"channel"`
	URL         string `yaml:"url" json:"-"`
	Description string `yaml:"description,omitempty" json:"description"`
}

// Config is the full contents of the webhook file
type Config struct {
	Version        int       `yaml:"version,omitempty"`
	DefaultChannel string    `yaml:"default_channel,omitempty"`
	Webhooks       []Webhook `yaml:"webhooks"`
}

// Find returns the first webhook registered for channel
func (c *Config) Find(channel string) (Webhook, bool) {
	for _, w := range c.Webhooks {
		if w.Channel == channel {
			return w, true
		}
	}
	return Webhook{}, false
}

// Resolve picks the webhook a message should go to. An explicit channel
// must exist; otherwise the default channel is used. A default naming a
// channel that no longer exists is reported as a configuration problem,
// not as a missing channel.
func (c *Config) Resolve(channel string) (Webhook, error) {
	if channel != "" {
		w, ok := c.Find(channel)
		if !ok {
			return Webhook{}, NewNotFoundError(channel)
		}
		return w, nil
	}

	if c.DefaultChannel != "" {
		w, ok := c.Find(c.DefaultChannel)
		if !ok {
			return Webhook{}, NewConfigurationError(fmt.Sprintf("default webhook not configured: channel '%s' is not registered", c.DefaultChannel))
		}
		return w, nil
	}

	return Webhook{}, NewConfigurationError("no default webhook set")
}

// Channels returns the channel names in file order
func (c *Config) Channels() []string {
	names := make([]string, 0, len(c.Webhooks))
	for _, w := range c.Webhooks {
		names = append(names, w.Channel)
	}
	return names
}

// Store reads and writes the webhook file. Nothing is cached: every Load
// goes back to disk so edits made outside the process are picked up.
type Store struct {
	path string

	// serializes Update's load-then-save; other processes are not coordinated
	mu sync.Mutex
}

// NewStore creates a store for the file at path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store operates on
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the webhook file
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, NewConfigError(fmt.Sprintf("failed to load config %s", s.path), err)
	}
	return Parse(data)
}

// Save overwrites the webhook file with cfg. Last writer wins.
func (s *Store) Save(cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	perm := fs.FileMode(0o644)
	if info, err := os.Stat(s.path); err == nil {
		perm = info.Mode().Perm()
	}

	if err := os.WriteFile(s.path, data, perm); err != nil {
		return NewConfigError(fmt.Sprintf("failed to save config %s", s.path), err)
	}
	return nil
}

// Update loads the file, applies fn and saves the result. If fn returns an
// error the file is left untouched.
func (s *Store) Update(fn func(cfg *Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return s.Save(cfg)
}

var errInvalidStructure = errors.New("invalid config structure")

// Parse decodes a webhook document. Only the overall shape is checked here:
// a mapping with a webhooks list. Individual entries are checked where
// they are used.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewConfigError("failed to parse config", err)
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, NewConfigError("failed to load config", fmt.Errorf("%w: document is empty", errInvalidStructure))
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, NewConfigError("failed to load config", fmt.Errorf("%w: top level must be a mapping", errInvalidStructure))
	}

	var hooks *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "webhooks" {
			hooks = root.Content[i+1]
			break
		}
	}
	if hooks == nil {
		return nil, NewConfigError("failed to load config", fmt.Errorf("%w: missing webhooks", errInvalidStructure))
	}
	for hooks.Kind == yaml.AliasNode && hooks.Alias != nil {
		hooks = hooks.Alias
	}
	if hooks.Kind != yaml.SequenceNode {
		return nil, NewConfigError("failed to load config", fmt.Errorf("%w: webhooks must be a list", errInvalidStructure))
	}

	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return nil, NewConfigError("failed to load config", err)
	}
	return &cfg, nil
}

// Marshal encodes cfg the way Save writes it
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, NewConfigError("failed to save config", err)
	}
	if err := enc.Close(); err != nil {
		return nil, NewConfigError("failed to save config", err)
	}
	return buf.Bytes(), nil
}
