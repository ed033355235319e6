package rsp

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/drslump/boohints/internal/errors"
)

// Locate walks the parent directories of a source file looking for a
// response file, nearest directory first. Within a directory matches are
// taken in lexical order. Returns ErrNoResponseFile (wrapped) when the walk
// reaches the filesystem root without a match.
func Locate(fromFile string) (string, error) {
	dir := filepath.Dir(fromFile)

	for {
		// Glob returns matches in lexical order; the pattern is fixed so
		// the only possible error (ErrBadPattern) cannot occur.
		matches, _ := filepath.Glob(filepath.Join(dir, "*.rsp"))
		if len(matches) > 0 {
			return matches[0], nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return "", &errors.ResponseFileError{Path: fromFile, Err: errors.ErrNoResponseFile}
}

// Args reads a response file and extracts the argument lines a hints server
// invocation cares about: -r lines verbatim, -o lines re-written to -r, and
// -ducky lines verbatim, in that order. All other lines are skipped.
func Args(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errors.ResponseFileError{Path: path, Err: err}
	}
	defer f.Close()

	var refs, outputs, duckies []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "-ducky"):
			duckies = append(duckies, line)
		case strings.HasPrefix(line, "-r"):
			refs = append(refs, line)
		case strings.HasPrefix(line, "-o"):
			// Reference the output assembly instead of writing it.
			outputs = append(outputs, "-r"+line[len("-o"):])
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &errors.ResponseFileError{Path: path, Err: err}
	}

	args := make([]string, 0, len(refs)+len(outputs)+len(duckies))
	args = append(args, refs...)
	args = append(args, outputs...)
	args = append(args, duckies...)

	return args, nil
}
