// Package preset manages named parameter presets: the built-in profiles
// shipped with the engine plus user presets stored as JSON.
package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/veloframe/steady.video/internal/fsutil"
	"github.com/veloframe/steady.video/internal/stab"
)

// Built-in preset names.
const (
	Gaming    = "gaming"
	Streaming = "streaming"
	Recording = "recording"
)

// Builtins returns the shipped profiles. Gaming trades smoothing for
// latency, recording does the opposite, streaming sits in between.
func Builtins() map[string]stab.Params {
	gaming := stab.DefaultParams()
	gaming.SmoothingRadius = 10
	gaming.MaxCorrection = 10
	gaming.FeatureCount = 150
	gaming.TransitionRate = 0.2

	streaming := stab.DefaultParams()

	recording := stab.DefaultParams()
	recording.SmoothingRadius = 60
	recording.MaxCorrection = 35
	recording.FeatureCount = 400
	recording.QualityLevel = 0.005

	return map[string]stab.Params{
		Gaming:    gaming,
		Streaming: streaming,
		Recording: recording,
	}
}

// Store is a JSON-file-backed preset collection layered over the
// built-ins. User presets shadow built-ins of the same name.
type Store struct {
	path string
	fs   fsutil.FileSystem
	user map[string]stab.Params
}

// Open loads the preset file at path. A missing file is an empty store;
// a malformed or invalid file is an error.
func Open(path string) (*Store, error) {
	return OpenFS(path, fsutil.OSFileSystem{})
}

// OpenFS is Open over an explicit filesystem.
func OpenFS(path string, fsys fsutil.FileSystem) (*Store, error) {
	s := &Store{path: path, fs: fsys, user: map[string]stab.Params{}}
	data, err := fsys.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}
	if err := json.Unmarshal(data, &s.user); err != nil {
		return nil, fmt.Errorf("failed to parse preset file: %w", err)
	}
	for name, p := range s.user {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
	}
	return s, nil
}

// Get resolves a preset by name, user presets first, then built-ins.
func (s *Store) Get(name string) (stab.Params, bool) {
	if p, ok := s.user[name]; ok {
		return p, true
	}
	p, ok := Builtins()[name]
	return p, ok
}

// Put adds or replaces a user preset. The params are validated, not
// clamped: a preset file should not silently drift from what was saved.
func (s *Store) Put(name string, p stab.Params) error {
	if name == "" {
		return fmt.Errorf("%w: empty preset name", stab.ErrConfiguration)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.user[name] = p
	return nil
}

// Delete removes a user preset. Built-ins cannot be deleted, only
// shadowed and unshadowed.
func (s *Store) Delete(name string) {
	delete(s.user, name)
}

// Names returns all available preset names, sorted, built-ins included.
func (s *Store) Names() []string {
	seen := map[string]bool{}
	for name := range Builtins() {
		seen[name] = true
	}
	for name := range s.user {
		seen[name] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Save writes the user presets back to the store's file.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.user, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal presets: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create preset dir: %w", err)
		}
	}
	if err := s.fs.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write preset file: %w", err)
	}
	return nil
}
