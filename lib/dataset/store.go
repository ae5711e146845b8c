package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/DataDog/zstd"
)

// DiskStore is a Store backed by the local filesystem. The file format is
// chosen by extension: ".h5", ".hdf5", ".nc" and ".cdf" files are read as
// HDF5 and ".sqsh" files use the compressed container. New files can be HDF5
// (".h5" or ".hdf5") or ".sqsh". Writing netCDF is not supported, since the
// HDF5 writer does not produce netCDF dimension scales.
type DiskStore struct {
	// Level is the zstd compression level of new .sqsh files. Zero means
	// zstd's default.
	Level int
}

var _ Store = &DiskStore{}

// Extensions lists every file extension DiskStore can open.
var Extensions = []string{".sqsh", ".h5", ".hdf5", ".nc", ".cdf"}

// OutputExtensions lists every file extension DiskStore can create.
var OutputExtensions = []string{".h5", ".hdf5", ".sqsh"}

// Supported reports whether DiskStore can open files with the given name.
func Supported(fname string) bool {
	ext := strings.ToLower(filepath.Ext(fname))
	for _, e := range Extensions {
		if ext == e { return true }
	}
	return false
}

// Writable reports whether DiskStore can create files with the given name.
func Writable(fname string) bool {
	ext := strings.ToLower(filepath.Ext(fname))
	for _, e := range OutputExtensions {
		if ext == e { return true }
	}
	return false
}

func isSqsh(fname string) bool {
	return strings.ToLower(filepath.Ext(fname)) == ".sqsh"
}

func (s *DiskStore) Open(path string) (File, error) {
	switch {
	case isSqsh(path): return OpenSqsh(path)
	case Supported(path): return OpenHdf5(path)
	}
	return nil, fmt.Errorf("The file %s does not have a recognized "+
		"extension. Recognized extensions are %s.", path,
		strings.Join(Extensions, ", "))
}

func (s *DiskStore) Create(path string) (Writer, error) {
	if !Writable(path) {
		return nil, fmt.Errorf("The output file %s does not have a writable "+
			"extension. Writable extensions are %s.", path,
			strings.Join(OutputExtensions, ", "))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	switch {
	case isSqsh(path):
		level := s.Level
		if level == 0 { level = zstd.DefaultCompression }
		return CreateSqsh(path, level)
	}
	return CreateHdf5(path)
}

func (s *DiskStore) List(dir string) ([]Entry, error) {
	if dir == "" { dir = "." }
	des, err := os.ReadDir(dir)
	if err != nil { return nil, err }
	out := make([]Entry, len(des))
	for i := range des {
		out[i] = Entry{Name: des[i].Name(), IsDir: des[i].IsDir()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *DiskStore) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil { return true, nil }
	if os.IsNotExist(err) { return false, nil }
	return false, err
}

func (s *DiskStore) Rename(from, to string) error { return os.Rename(from, to) }

func (s *DiskStore) Remove(path string) error { return os.Remove(path) }
