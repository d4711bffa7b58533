package offdata

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/spf13/afero"
)

// AferoStore is a Store backed by an afero.Fs, one file per row, named
// "<table>/<id>.json". Useful for in-memory tests (afero.NewMemMapFs())
// or an on-disk store rooted anywhere (afero.NewOsFs()) without pulling in
// SQLite.
type AferoStore struct {
	fs afero.Fs
	mu sync.Mutex
}

// NewAferoStore wraps fs as a Store, creating the table directories if
// they don't already exist.
func NewAferoStore(fs afero.Fs) (*AferoStore, error) {
	s := &AferoStore{fs: fs}
	for _, table := range []Table{TableRegistry, TableQueue} {
		if err := fs.MkdirAll(string(table), 0755); err != nil {
			return nil, fmt.Errorf("offdata: afero store mkdir %s: %w", table, err)
		}
	}
	return s, nil
}

func (s *AferoStore) rowPath(table Table, id string) string {
	return path.Join(string(table), id+".json")
}

func (s *AferoStore) Get(_ context.Context, table Table, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := afero.ReadFile(s.fs, s.rowPath(table, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("offdata: afero get: %w", err)
	}
	return v, true, nil
}

func (s *AferoStore) GetAll(_ context.Context, table Table) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := afero.ReadDir(s.fs, string(table))
	if err != nil {
		return nil, fmt.Errorf("offdata: afero getall readdir: %w", err)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := stripJSONExt(e.Name())
		v, err := afero.ReadFile(s.fs, path.Join(string(table), e.Name()))
		if err != nil {
			return nil, fmt.Errorf("offdata: afero getall read %s: %w", e.Name(), err)
		}
		out[id] = v
	}
	return out, nil
}

func (s *AferoStore) GetAllIDs(_ context.Context, table Table) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := afero.ReadDir(s.fs, string(table))
	if err != nil {
		return nil, fmt.Errorf("offdata: afero getallids readdir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ids = append(ids, stripJSONExt(e.Name()))
	}
	return ids, nil
}

func (s *AferoStore) Put(_ context.Context, table Table, id string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := afero.WriteFile(s.fs, s.rowPath(table, id), value, 0644); err != nil {
		return fmt.Errorf("offdata: afero put: %w", err)
	}
	return nil
}

func (s *AferoStore) Delete(_ context.Context, table Table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Remove(s.rowPath(table, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("offdata: afero delete: %w", err)
	}
	return nil
}

func stripJSONExt(name string) string {
	const ext = ".json"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}
