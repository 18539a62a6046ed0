// Package regions discovers the input surface of a build run: a
// directory tree with one subdirectory per region, each optionally
// carrying an exposure/ subdirectory of description files. A description
// file resolves, through a Parser, to the underlying tabular data files
// that actually get ingested.
package regions

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/geoscale/exposurestore/pkg/errors"
	"github.com/geoscale/exposurestore/pkg/logger"
)

// exposureDir is the subdirectory a region keeps its description files in.
const exposureDir = "exposure"

// Region is one region directory and its exposure description files.
type Region struct {
	Name         string
	Path         string
	Descriptions []string
}

// Parser resolves one exposure description file to the list of tabular
// data files it references. Region producers ship different description
// formats; each gets its own Parser.
type Parser interface {
	Parse(path string) ([]string, error)
}

// ListParser is the default Parser: one data-file path per line,
// relative paths resolved against the description file's directory.
// Blank lines and #-comments are skipped.
type ListParser struct{}

// Parse implements Parser.
func (ListParser) Parse(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open description file "+path)
	}
	defer f.Close()

	dir := filepath.Dir(path)
	var files []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(dir, line)
		}
		files = append(files, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read description file "+path)
	}

	return files, nil
}

// Discover lists the regions under root. Every immediate subdirectory is
// a region; only those with an exposure/ subdirectory contribute
// description files.
func Discover(root string) ([]Region, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read region root "+root)
	}

	var out []Region
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		region := Region{
			Name: entry.Name(),
			Path: filepath.Join(root, entry.Name()),
		}

		expDir := filepath.Join(region.Path, exposureDir)
		descs, err := os.ReadDir(expDir)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Debug("region has no exposure directory", zap.String("region", region.Name))
				out = append(out, region)
				continue
			}
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read "+expDir)
		}

		for _, d := range descs {
			if d.IsDir() {
				continue
			}
			region.Descriptions = append(region.Descriptions, filepath.Join(expDir, d.Name()))
		}
		out = append(out, region)
	}

	return out, nil
}

// Expand discovers regions under root and resolves every description
// file through the parser, returning the full ordered data-file list for
// the run. An empty result is a configuration error: there is nothing to
// build a store from.
func Expand(root string, p Parser) ([]string, error) {
	regs, err := Discover(root)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, region := range regs {
		for _, desc := range region.Descriptions {
			resolved, err := p.Parse(desc)
			if err != nil {
				return nil, err
			}
			files = append(files, resolved...)
		}
		logger.Debug("expanded region",
			zap.String("region", region.Name),
			zap.Int("descriptions", len(region.Descriptions)))
	}

	if len(files) == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"no exposure data files found under %s", root)
	}

	return files, nil
}
