package prober

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/funktionslust/goingest"
)

// maxPatternFiles bounds the expansion of a single pattern.
const maxPatternFiles = 100000

var patternBlockRegex = regexp.MustCompile(`<([^<>]+)>`)

// probePattern reads the file pattern from the first non empty line of the file and lists the
// matching files after it.
func probePattern(path string) (*goingest.ProbeResult, error) {
	pattern, err := readPattern(path)
	if err != nil {
		return nil, err
	}
	names, err := ExpandPattern(pattern)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	used := []string{path}
	for _, name := range names {
		file := name
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, filepath.FromSlash(name))
		}
		if file == path || contains(used, file) {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("pattern file %s: %w", name, err)
		}
		used = append(used, file)
	}
	if len(used) == 1 {
		return nil, errors.New("pattern matches no files")
	}
	return &goingest.ProbeResult{FormatID: FormatPattern, UsedFiles: used}, nil
}

// readPattern returns the first non empty line of the file.
func readPattern(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errors.New("empty pattern file")
}

// ExpandPattern expands the blocks of the pattern. A block is either a numeric range "<1-12>",
// zero padded when the bounds are ("<01-12>"), or a list "<red,green>". Several blocks expand to
// all their combinations, the last block varying fastest.
func ExpandPattern(pattern string) ([]string, error) {
	locs := patternBlockRegex.FindAllStringSubmatchIndex(pattern, -1)
	results := []string{""}
	last := 0
	for _, loc := range locs {
		literal := pattern[last:loc[0]]
		values, err := blockValues(pattern[loc[2]:loc[3]])
		if err != nil {
			return nil, err
		}
		if len(results)*len(values) > maxPatternFiles {
			return nil, fmt.Errorf("pattern %q expands to more than %d files", pattern, maxPatternFiles)
		}
		next := make([]string, 0, len(results)*len(values))
		for _, prefix := range results {
			for _, v := range values {
				next = append(next, prefix+literal+v)
			}
		}
		results = next
		last = loc[1]
	}
	for i := range results {
		results[i] += pattern[last:]
	}
	return results, nil
}

// blockValues returns the values of a single pattern block.
func blockValues(block string) ([]string, error) {
	if strings.Contains(block, ",") {
		return strings.Split(block, ","), nil
	}
	bounds := strings.SplitN(block, "-", 2)
	if len(bounds) != 2 {
		return []string{block}, nil
	}
	from, err := strconv.Atoi(bounds[0])
	if err != nil {
		return nil, fmt.Errorf("invalid range start %q: %w", bounds[0], err)
	}
	to, err := strconv.Atoi(bounds[1])
	if err != nil {
		return nil, fmt.Errorf("invalid range end %q: %w", bounds[1], err)
	}
	if to < from {
		return nil, fmt.Errorf("invalid range <%s>: end before start", block)
	}
	if to-from+1 > maxPatternFiles {
		return nil, fmt.Errorf("range <%s> is too large", block)
	}
	width := 0
	if strings.HasPrefix(bounds[0], "0") && len(bounds[0]) > 1 {
		width = len(bounds[0])
	}
	values := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		values = append(values, fmt.Sprintf("%0*d", width, i))
	}
	return values, nil
}
