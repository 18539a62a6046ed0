package schema

import (
	"context"
	"encoding/csv"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/geoscale/exposurestore/pkg/errors"
	"github.com/geoscale/exposurestore/pkg/logger"
)

// Common is the ordered set of column names present in every source
// file of a run, with their storage types per the coercion table.
// Resolved once per run; never mutated afterward.
type Common struct {
	Columns []string
	Types   []ColumnType

	index map[string]int
}

// NewCommon builds a common schema directly from column names, typing
// them per the coercion table. Duplicate names (case-insensitive) are
// kept once. Useful where the column set is already agreed on.
func NewCommon(columns ...string) *Common {
	common := &Common{index: make(map[string]int, len(columns))}
	for _, name := range columns {
		key := strings.ToUpper(name)
		if _, dup := common.index[key]; dup {
			continue
		}
		common.index[key] = len(common.Columns)
		common.Columns = append(common.Columns, name)
		common.Types = append(common.Types, TypeOf(name))
	}
	return common
}

// Index returns the position of a column in the common schema, or -1.
// Lookup is case-insensitive, matching the coercion table.
func (c *Common) Index(name string) int {
	if i, ok := c.index[strings.ToUpper(name)]; ok {
		return i
	}
	return -1
}

// Require returns a schema error if any of the named columns is missing
// from the common schema. The bucketer calls this for the latitude and
// longitude columns before any store is created.
func (c *Common) Require(names ...string) error {
	for _, name := range names {
		if c.Index(name) < 0 {
			return errors.Newf(errors.ErrorTypeSchema,
				"common schema lacks required column %q (have: %s)",
				name, strings.Join(c.Columns, ", "))
		}
	}
	return nil
}

// Resolve computes the common schema over all source files of a run. It
// reads only the header row of each file. The column order is the order
// of first appearance in the first file; the resulting set is
// independent of file order.
func Resolve(ctx context.Context, paths []string) (*Common, error) {
	if len(paths) == 0 {
		return nil, errors.New(errors.ErrorTypeSchema, "no source files to resolve a schema from")
	}

	var first []string
	counts := make(map[string]int)

	for _, path := range paths {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeSchema, "schema resolution cancelled")
		default:
		}

		header, err := readHeader(path)
		if err != nil {
			return nil, err
		}

		if first == nil {
			first = header
		}

		// A file repeating a column name counts it once.
		seen := make(map[string]struct{}, len(header))
		for _, name := range header {
			key := strings.ToUpper(name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			counts[key]++
		}
	}

	common := &Common{index: make(map[string]int)}
	for _, name := range first {
		key := strings.ToUpper(name)
		if counts[key] != len(paths) {
			continue
		}
		if _, dup := common.index[key]; dup {
			continue
		}
		common.index[key] = len(common.Columns)
		common.Columns = append(common.Columns, name)
		common.Types = append(common.Types, TypeOf(name))
	}

	if len(common.Columns) == 0 {
		return nil, errors.Newf(errors.ErrorTypeSchema,
			"no common columns across %d source files", len(paths))
	}

	logger.Debug("resolved common schema",
		zap.Int("files", len(paths)),
		zap.Strings("columns", common.Columns))

	return common, nil
}

// readHeader reads the first CSV row of a file.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open source file "+path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to read header of "+path)
	}

	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, nil
}
