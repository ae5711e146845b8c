package dataset

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// MemStore is a Store that keeps every file in RAM. It is used by tests and
// by the fixture package, and can be initialized directly from arrays.
type MemStore struct {
	mu    sync.Mutex
	files map[string]*memData
	dirs  map[string]bool
}

type memData struct {
	attrs Attributes
	names []string
	infos map[string]VarInfo
	data  map[string]*Array
}

// MemFile implements File for MemStore.
type MemFile struct {
	path   string
	d      *memData
	closed bool
}

// MemWriter implements Writer for MemStore.
type MemWriter struct {
	store  *MemStore
	path   string
	d      *memData
	closed bool
}

// Type assertions
var (
	_ Store  = &MemStore{}
	_ File   = &MemFile{}
	_ Writer = &MemWriter{}
)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{files: map[string]*memData{}, dirs: map[string]bool{}}
}

func cleanPath(p string) string {
	p = path.Clean(p)
	if p == "." { return "" }
	return strings.TrimPrefix(p, "./")
}

// MkdirAll records dir (and all its parents) as a directory, so empty
// directories show up in List.
func (s *MemStore) MkdirAll(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAll(cleanPath(dir))
}

func (s *MemStore) mkdirAll(dir string) {
	for dir != "" && dir != "/" && dir != "." {
		s.dirs[dir] = true
		parent := path.Dir(dir)
		if parent == "." { break }
		dir = parent
	}
}

// Open implements Store.
func (s *MemStore) Open(p string) (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.files[cleanPath(p)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return &MemFile{path: p, d: d}, nil
}

// Create implements Store.
func (s *MemStore) Create(p string) (Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirs[cleanPath(p)] {
		return nil, &fs.PathError{Op: "create", Path: p, Err: fs.ErrExist}
	}
	d := &memData{
		attrs: Attributes{},
		infos: map[string]VarInfo{},
		data:  map[string]*Array{},
	}
	return &MemWriter{store: s, path: p, d: d}, nil
}

// List implements Store.
func (s *MemStore) List(dir string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir = cleanPath(dir)
	if dir != "" && !s.dirs[dir] {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrNotExist}
	}

	seen := map[string]bool{}
	out := []Entry{}
	add := func(p string, isDir bool) {
		if path.Dir(p) != dir && !(dir == "" && path.Dir(p) == ".") { return }
		name := path.Base(p)
		if seen[name] { return }
		seen[name] = true
		out = append(out, Entry{Name: name, IsDir: isDir})
	}
	for p := range s.files { add(p, false) }
	for p := range s.dirs { add(p, true) }

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Exists implements Store.
func (s *MemStore) Exists(p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = cleanPath(p)
	_, ok := s.files[p]
	return ok || s.dirs[p], nil
}

// Rename implements Store.
func (s *MemStore) Rename(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to = cleanPath(from), cleanPath(to)
	d, ok := s.files[from]
	if !ok {
		return &fs.PathError{Op: "rename", Path: from, Err: fs.ErrNotExist}
	}
	delete(s.files, from)
	s.files[to] = d
	s.mkdirAll(path.Dir(to))
	return nil
}

// Remove implements Store.
func (s *MemStore) Remove(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = cleanPath(p)
	if _, ok := s.files[p]; !ok {
		return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrNotExist}
	}
	delete(s.files, p)
	return nil
}

// Put stores a complete file directly. It is a shortcut for Create,
// Define, WriteSlice and Close that tests use to build dumps.
func (s *MemStore) Put(p string, attrs Attributes, vars []VarInfo, data []*Array) error {
	if len(vars) != len(data) {
		return fmt.Errorf("%d variables were given %d arrays.",
			len(vars), len(data))
	}
	wr, err := s.Create(p)
	if err != nil { return err }
	for _, k := range attrs.Keys() {
		if err := wr.SetAttribute(k, attrs[k]); err != nil { return err }
	}
	for i := range vars {
		if err := wr.Define(vars[i]); err != nil { return err }
		start := make([]int, vars[i].Rank())
		if err := wr.WriteSlice(vars[i].Name, start, data[i]); err != nil {
			return err
		}
	}
	return wr.Close()
}

func (f *MemFile) Path() string { return f.path }

func (f *MemFile) Variables() []string {
	return append([]string{}, f.d.names...)
}

func (f *MemFile) Info(name string) (VarInfo, bool) {
	info, ok := f.d.infos[name]
	if !ok { return VarInfo{}, false }
	return info.Copy(), true
}

func (f *MemFile) Attributes() Attributes { return f.d.attrs.Copy() }

func (f *MemFile) ReadSlice(name string, sel []Slice) (*Array, error) {
	if f.closed {
		return nil, fmt.Errorf("The file %s was read after being closed.", f.path)
	}
	arr, ok := f.d.data[name]
	if !ok {
		return nil, fmt.Errorf("The variable '%s' is not in %s.", name, f.path)
	}
	return arr.Extract(sel)
}

func (f *MemFile) Close() error {
	f.closed = true
	return nil
}

func (wr *MemWriter) SetAttribute(name string, value interface{}) error {
	v, err := Normalize(value)
	if err != nil { return err }
	wr.d.attrs[name] = v
	return nil
}

func (wr *MemWriter) Define(info VarInfo) error {
	if err := info.Check(); err != nil { return err }
	if _, ok := wr.d.infos[info.Name]; ok {
		return fmt.Errorf("The variable '%s' was defined twice in %s.",
			info.Name, wr.path)
	}
	info = info.Copy()
	if info.Attrs == nil { info.Attrs = Attributes{} }
	wr.d.infos[info.Name] = info
	wr.d.data[info.Name] = NewArray(info.DType, info.Shape)
	wr.d.names = append(wr.d.names, info.Name)
	sort.Strings(wr.d.names)
	return nil
}

func (wr *MemWriter) WriteSlice(name string, start []int, data *Array) error {
	if wr.closed {
		return fmt.Errorf("The file %s was written after being closed.", wr.path)
	}
	info, ok := wr.d.infos[name]
	if !ok {
		return fmt.Errorf("The variable '%s' was written to %s before "+
			"being defined.", name, wr.path)
	}
	if err := checkWrite(info, start, data); err != nil { return err }
	return CopyBlock(wr.d.data[name], start, data,
		make([]int, len(start)), data.Shape)
}

// Close publishes the file to the store.
func (wr *MemWriter) Close() error {
	if wr.closed { return nil }
	wr.closed = true
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()
	p := cleanPath(wr.path)
	wr.store.files[p] = wr.d
	wr.store.mkdirAll(path.Dir(p))
	return nil
}
