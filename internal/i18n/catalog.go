// Package i18n holds the human-readable template catalog for activity
// messages and automated responses.
package i18n

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yml
var localeFS embed.FS

// Catalog maps dotted template keys to format strings.
type Catalog struct {
	entries map[string]string
}

// Load parses the embedded default locale.
func Load() (*Catalog, error) {
	data, err := localeFS.ReadFile("locales/en.yml")
	if err != nil {
		return nil, fmt.Errorf("read locale: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse locale: %w", err)
	}
	entries := map[string]string{}
	flatten("", raw, entries)
	return &Catalog{entries: entries}, nil
}

// T renders the template for key with args. Unknown keys render as the key
// itself so a missing translation never hides an activity entry.
func (c *Catalog) T(key string, args ...any) string {
	tmpl, ok := c.entries[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

// Keys lists all known template keys. Used by tests.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case map[string]any:
			flatten(key, val, out)
		}
	}
}
