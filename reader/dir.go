package reader

import (
	"os"

	"github.com/pkg/errors"

	"github.com/alpacahq/journald/format"
	"github.com/alpacahq/journald/utils/log"
)

// DirOptions control a directory replay.
type DirOptions struct {
	// Pattern selects journal files by name; empty selects all but hidden files.
	Pattern string
	// Remove deletes each file that replayed to a clean end.
	Remove bool
}

// ReplayDir replays every matching journal file in dir, in lexical order,
// each one independently. A file that can not be opened, has a bad header or
// ends in damaged records is reported in its Result and the replay continues
// with the next file. Only a Sink failure stops the whole directory.
func ReplayDir(dir string, sink Sink, opts DirOptions) ([]Result, error) {
	finder, err := NewFinder(os.ReadDir, opts.Pattern)
	if err != nil {
		return nil, err
	}
	paths, err := finder.Find(dir)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		res, err := Replay(path, sink)
		if err != nil {
			if !skippable(err) {
				return results, err
			}
			results = append(results, Result{Path: path, Stop: ReplayError{Path: path, Msg: err.Error(), Cont: true}})
			continue
		}
		results = append(results, res)
		if res.Stop != nil || !opts.Remove {
			continue
		}
		if err := os.Remove(path); err != nil {
			return results, errors.Wrapf(err, "remove replayed journal %s", path)
		}
		log.Info("removed replayed journal %s", path)
	}
	return results, nil
}

func skippable(err error) bool {
	var herr format.HeaderError
	if errors.As(err, &herr) {
		return true
	}
	var perr *os.PathError
	return errors.As(err, &perr)
}
