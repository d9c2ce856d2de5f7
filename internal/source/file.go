package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FileSpec describes how to parse an uploaded single-column numeric file.
// Transient: scoped to one load event.
type FileSpec struct {
	Path   string `json:"path"`
	Name   string `json:"name"` // original filename as chosen in the browser
	Header bool   `json:"header"`
}

// ParseError reports an upload that could not be reduced to a single
// numeric column. It is surfaced to the UI as-is; the session keeps
// running and there is no retry.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse: %v", e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// File reads one numeric column from a CSV or plain-text file.
type File struct {
	Spec FileSpec
}

func (File) Name() string { return "file" }

// errPath prefers the browser-side filename in errors; the on-disk path
// is a meaningless temp name.
func (f File) errPath() string {
	if f.Spec.Name != "" {
		return f.Spec.Name
	}
	return f.Spec.Path
}

func (f File) Generate() (Dataset, error) {
	fh, err := os.Open(f.Spec.Path)
	if err != nil {
		return nil, &ParseError{Path: f.errPath(), Err: err}
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = 1
	records, err := r.ReadAll()
	if err != nil {
		return nil, &ParseError{Path: f.errPath(), Err: err}
	}

	if f.Spec.Header && len(records) > 0 {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, &ParseError{Path: f.errPath(), Err: errors.New("no data rows")}
	}

	out := make(Dataset, 0, len(records))
	for i, rec := range records {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, &ParseError{
				Path: f.errPath(),
				Err:  fmt.Errorf("row %d: %q is not numeric", i+1, rec[0]),
			}
		}
		out = append(out, v)
	}
	return out, nil
}
