package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"

	"github.com/alpacahq/journald/utils/log"
)

// DefaultPattern matches every file name except hidden ones.
const DefaultPattern = "[!.]*"

type Finder struct {
	dirRead func(name string) ([]os.DirEntry, error)
	pattern glob.Glob
}

// NewFinder returns a Finder for file names matching the glob pattern.
func NewFinder(dirRead func(name string) ([]os.DirEntry, error), pattern string) (*Finder, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid journal file pattern %q: %w", pattern, err)
	}
	return &Finder{dirRead: dirRead, pattern: g}, nil
}

// Find returns the paths of the matching files directly under the directory,
// in lexical order of their names.
func (f *Finder) Find(dir string) ([]string, error) {
	var ret []string
	files, err := f.dirRead(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read the directory %s: %w", dir, err)
	}
	for _, file := range files {
		// ignore directories
		if file.IsDir() {
			continue
		}

		filename := file.Name()
		if !f.pattern.Match(filename) {
			continue
		}

		log.Debug("found a journal file: %s", filename)
		ret = append(ret, filepath.Join(dir, filename))
	}
	sort.Strings(ret)
	return ret, nil
}
