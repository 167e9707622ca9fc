// Package servers keeps the definitions of managed game servers in a TOML
// file of [servers.<id>] tables and reloads it when it changes on disk.
package servers

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/servernode/internal/config"
	"github.com/smazurov/servernode/internal/errs"
)

// DefaultPath is used when no servers file is configured.
const DefaultPath = "servers.toml"

// Spec describes one managed server.
type Spec struct {
	ID         string   `toml:"-" json:"id"`
	Name       string   `toml:"name" json:"name"`
	AppID      string   `toml:"app_id" json:"app_id"`
	Path       string   `toml:"path" json:"path"`
	Executable string   `toml:"executable" json:"executable"`
	Args       []string `toml:"args,omitempty" json:"args,omitempty"`

	CreatedAt time.Time `toml:"created_at" json:"created_at"`
	UpdatedAt time.Time `toml:"updated_at" json:"updated_at"`
}

// ExecutablePath resolves Executable against Path when it is relative.
func (s Spec) ExecutablePath() string {
	if filepath.IsAbs(s.Executable) {
		return s.Executable
	}
	return filepath.Join(s.Path, s.Executable)
}

// Document is the whole servers file.
type Document struct {
	Version int             `toml:"version" json:"version"`
	Servers map[string]Spec `toml:"servers" json:"servers"`
}

// Load reads and parses a servers file. A missing file is an empty document.
func Load(path string) (Document, error) {
	doc := Document{Version: 1, Servers: make(map[string]Spec)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read servers config: %w", err)
	}

	if err := toml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to parse servers config: %w", err)
	}
	if doc.Servers == nil {
		doc.Servers = make(map[string]Spec)
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	for id, spec := range doc.Servers {
		spec.ID = id
		doc.Servers[id] = spec
	}
	return doc, nil
}

// Store holds the current server definitions.
type Store struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	doc Document
}

// NewStore creates a store backed by path. Call Load to read it.
func NewStore(path string, logger *slog.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger,
		doc:    Document{Version: 1, Servers: make(map[string]Spec)},
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory definitions with the file contents.
func (s *Store) Load() error {
	doc, err := Load(s.path)
	if err != nil {
		return err
	}
	s.replace(doc)
	return nil
}

func (s *Store) replace(doc Document) {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	s.logger.Info("Server definitions loaded", "path", s.path, "count", len(doc.Servers))
}

// Get returns the definition for id.
func (s *Store) Get(id string) (Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.doc.Servers[id]
	if !ok {
		return Spec{}, errs.New(errs.CodeNotFound, fmt.Sprintf("server %s not found", id), nil)
	}
	return spec, nil
}

// List returns every definition sorted by id.
func (s *Store) List() []Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	specs := make([]Spec, 0, len(s.doc.Servers))
	for _, spec := range s.doc.Servers {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// Put adds or replaces a definition and rewrites the file.
func (s *Store) Put(spec Spec) (Spec, error) {
	if err := validate(spec); err != nil {
		return Spec{}, err
	}
	if spec.Name == "" {
		spec.Name = spec.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.doc.Servers[spec.ID]; ok {
		spec.CreatedAt = existing.CreatedAt
	} else if spec.CreatedAt.IsZero() {
		spec.CreatedAt = now
	}
	spec.UpdatedAt = now

	servers := make(map[string]Spec, len(s.doc.Servers)+1)
	for id, existing := range s.doc.Servers {
		servers[id] = existing
	}
	servers[spec.ID] = spec
	next := Document{Version: s.doc.Version, Servers: servers}

	if err := s.save(next); err != nil {
		return Spec{}, err
	}
	s.doc = next
	return spec, nil
}

// Remove deletes a definition and rewrites the file.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Servers[id]; !ok {
		return errs.New(errs.CodeNotFound, fmt.Sprintf("server %s not found", id), nil)
	}

	servers := make(map[string]Spec, len(s.doc.Servers))
	for sid, spec := range s.doc.Servers {
		if sid != id {
			servers[sid] = spec
		}
	}
	next := Document{Version: s.doc.Version, Servers: servers}

	if err := s.save(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// Watch starts reloading the store whenever the file changes. Stop the
// returned watcher on shutdown.
func (s *Store) Watch(opts ...config.WatcherOption[Document]) (*config.Watcher[Document], error) {
	opts = append([]config.WatcherOption[Document]{
		config.WithErrorHandler[Document](func(err error) {
			s.logger.Warn("Keeping previous server definitions", "error", err)
		}),
	}, opts...)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	w := config.NewConfigWatcher(s.path, Load, s.logger, opts...)
	w.OnReload(s.replace)
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

// save writes doc through a temp file and rename (must hold lock).
func (s *Store) save(doc Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal servers config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp servers config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write servers config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write servers config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace servers config: %w", err)
	}
	return nil
}

func validate(spec Spec) error {
	if spec.ID == "" {
		return fmt.Errorf("server ID cannot be empty")
	}
	if spec.ID == "." || spec.ID == ".." || strings.ContainsAny(spec.ID, `/\`) {
		return fmt.Errorf("server ID %q must not contain path separators", spec.ID)
	}
	if spec.Path == "" {
		return fmt.Errorf("server %s: path cannot be empty", spec.ID)
	}
	if spec.Executable == "" {
		return fmt.Errorf("server %s: executable cannot be empty", spec.ID)
	}
	return nil
}
