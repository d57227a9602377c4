// Package msgcat holds user-visible texts and the fallback topic pool. The
// embedded YAML can be overridden per key from a directory of YAML files.
package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var defaultFiles embed.FS

const defaultFile = "messages.en.yaml"

// Well-known keys.
const (
	KeyMatchJoined      = "match.joined"
	KeyMatchWaiting     = "match.waiting"
	KeyMatchCancelled   = "match.cancelled"
	KeyNoOpponent       = "match.no_opponent"
	KeyResultNotFound   = "result.not_found"
	KeyRoomNotFound     = "room.not_found"
	KeyUnauthenticated  = "auth.unauthenticated"
	KeyInternal         = "error.internal"
	KeyTopics           = "topics"
	KeyTopicPrompt      = "topic.prompt"
	KeyTopicSystemRole  = "topic.system"
	KeyContention       = "error.contention"
	KeyInvalidArguments = "error.invalid_arguments"
)

// Catalog maps dot keys to template text or to string lists.
type Catalog struct {
	mu    sync.RWMutex
	data  map[string]string
	lists map[string][]string
}

// New loads the embedded defaults, then applies overrides from dir if set.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{data: make(map[string]string), lists: make(map[string][]string)}
	raw, err := fs.ReadFile(defaultFiles, defaultFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	if err := c.apply(raw); err != nil {
		return nil, fmt.Errorf("parse embedded messages: %w", err)
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustDefault returns the embedded catalog and panics if it does not parse.
func MustDefault() *Catalog {
	c, err := New("")
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read message dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	seen := make(map[string]string)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		texts, lists, err := flatten(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range texts {
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			seen[k] = name
		}
		for k := range lists {
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			seen[k] = name
		}
		c.merge(texts, lists)
	}
	return nil
}

func (c *Catalog) apply(b []byte) error {
	texts, lists, err := flatten(b)
	if err != nil {
		return err
	}
	c.merge(texts, lists)
	return nil
}

func (c *Catalog) merge(texts map[string]string, lists map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range texts {
		c.data[k] = v
	}
	for k, v := range lists {
		c.lists[k] = v
	}
}

func flatten(b []byte) (map[string]string, map[string][]string, error) {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, nil, err
	}
	texts := make(map[string]string)
	lists := make(map[string][]string)
	if err := walk(m, "", texts, lists); err != nil {
		return nil, nil, err
	}
	return texts, lists, nil
}

func walk(src any, prefix string, texts map[string]string, lists map[string][]string) error {
	switch v := src.(type) {
	case map[string]any:
		for k, vv := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := walk(vv, key, texts, lists); err != nil {
				return err
			}
		}
		return nil
	case []any:
		if prefix == "" {
			return errors.New("list value without key prefix")
		}
		items := make([]string, 0, len(v))
		for i, it := range v {
			s, ok := it.(string)
			if !ok {
				return fmt.Errorf("unsupported list item at %s[%d]: %T", prefix, i, it)
			}
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		lists[prefix] = items
		return nil
	case string:
		if prefix == "" {
			return errors.New("string value without key prefix")
		}
		texts[prefix] = v
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
}

// Render executes the template at key. Missing keys and missing template
// fields are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
	c.mu.RLock()
	tpl, ok := c.data[strings.TrimSpace(key)]
	c.mu.RUnlock()
	if !ok || strings.TrimSpace(tpl) == "" {
		return "", fmt.Errorf("template not found: %s", key)
	}
	t, err := template.New(key).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Text renders key without data and falls back to key itself.
func (c *Catalog) Text(key string) string {
	if c == nil {
		return key
	}
	s, err := c.Render(key, nil)
	if err != nil {
		return key
	}
	return strings.TrimSpace(s)
}

// Strings returns a copy of the list at key.
func (c *Catalog) Strings(key string) []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.lists[strings.TrimSpace(key)]
	out := make([]string, len(src))
	copy(out, src)
	return out
}
