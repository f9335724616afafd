// Package registry loads the declarative source list that drives the scraper.
//
// The registry file is plain text, one record per non-empty non-comment line,
// with comma-delimited fields:
//
//	human_name, code, directory_tag, filename_stem, direct_url_template,
//	archive_url_template, snapshot_url_template, cadence_tag, category_tag
//
// URL templates may carry a {YYYYMMDD} placeholder (compact date) or a
// {YYYYMM01} placeholder (first of the month). Snapshot entries omit both and
// resolve to a constant URL.
package registry

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Cadence is the upstream publishing frequency of a source.
type Cadence string

const (
	CadenceRT5        Cadence = "rt5"
	CadenceHourly     Cadence = "hourly"
	CadenceDaily      Cadence = "daily"
	CadenceMultiDaily Cadence = "multi_daily"
	CadenceSnapshot   Cadence = "snapshot"
)

// valid reports whether c is one of the recognized cadence tags.
func (c Cadence) valid() bool {
	switch c {
	case CadenceRT5, CadenceHourly, CadenceDaily, CadenceMultiDaily, CadenceSnapshot:
		return true
	}
	return false
}

// Dated reports whether sources with this cadence publish per-date files.
// Snapshot sources publish a single rolling file with a constant URL.
func (c Cadence) Dated() bool {
	return c != CadenceSnapshot
}

const (
	placeholderDate       = "{YYYYMMDD}"
	placeholderMonthFirst = "{YYYYMM01}"
)

// Source describes one upstream report. Immutable after registry load.
type Source struct {
	Name           string
	Code           string
	Directory      string
	FilenameStem   string
	DirectURL      string // template, may contain {YYYYMMDD}
	ArchiveURL     string // template, may contain {YYYYMM01}; optional
	SnapshotURL    string // constant URL for snapshot sources; optional
	Cadence        Cadence
	Category       string
	TransformerTag string
}

// ConfigError reports an unusable registry file. Fatal at boot, never at runtime.
type ConfigError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("registry %s line %d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("registry %s: %s", e.Path, e.Reason)
}

// ErrUnknownSource is returned by lookups for codes absent from the registry.
var ErrUnknownSource = errors.New("unknown source code")

// Registry holds the loaded source set. Read-only after Load.
type Registry struct {
	byCode  map[string]*Source
	ordered []*Source
}

// Load parses the registry file and validates every record.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("cannot open: %v", err)}
	}
	defer f.Close()

	reg := &Registry{byCode: make(map[string]*Source)}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		src, err := parseLine(line)
		if err != nil {
			return nil, &ConfigError{Path: path, Line: lineNo, Reason: err.Error()}
		}
		if _, dup := reg.byCode[src.Code]; dup {
			return nil, &ConfigError{Path: path, Line: lineNo, Reason: fmt.Sprintf("duplicate source code %q", src.Code)}
		}

		reg.byCode[src.Code] = src
		reg.ordered = append(reg.ordered, src)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("read failed: %v", err)}
	}
	if len(reg.ordered) == 0 {
		return nil, &ConfigError{Path: path, Reason: "no sources defined"}
	}

	return reg, nil
}

// parseLine splits one record into a Source and validates required fields.
func parseLine(line string) (*Source, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 9 {
		return nil, fmt.Errorf("expected 9 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	src := &Source{
		Name:         fields[0],
		Code:         fields[1],
		Directory:    fields[2],
		FilenameStem: fields[3],
		DirectURL:    fields[4],
		ArchiveURL:   fields[5],
		SnapshotURL:  fields[6],
		Cadence:      Cadence(fields[7]),
		Category:     fields[8],
	}

	if src.Name == "" {
		return nil, errors.New("missing human_name")
	}
	if src.Code == "" {
		return nil, errors.New("missing code")
	}
	if src.FilenameStem == "" {
		return nil, errors.New("missing filename_stem")
	}
	if !src.Cadence.valid() {
		return nil, fmt.Errorf("unrecognized cadence %q", fields[7])
	}
	if src.Category == "" {
		return nil, errors.New("missing category_tag")
	}
	if src.Cadence == CadenceSnapshot {
		if src.SnapshotURL == "" {
			return nil, errors.New("snapshot source requires snapshot_url_template")
		}
	} else if src.DirectURL == "" {
		return nil, errors.New("dated source requires direct_url_template")
	}

	// The transformer tag is the canonical form of the report code: each
	// report has exactly one CSV shape.
	src.TransformerTag = strings.ToLower(strings.ReplaceAll(src.Code, "-", "_"))

	return src, nil
}

// Get returns the source for code, or ErrUnknownSource.
func (r *Registry) Get(code string) (*Source, error) {
	src, ok := r.byCode[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, code)
	}
	return src, nil
}

// All returns every source in file order.
func (r *Registry) All() []*Source {
	out := make([]*Source, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Resolve substitutes date placeholders and returns the direct URL plus the
// archive URL, which is empty when the source defines none. Templates without
// placeholders are returned verbatim; that is the snapshot contract.
func (r *Registry) Resolve(code string, date time.Time) (directURL, archiveURL string, err error) {
	src, err := r.Get(code)
	if err != nil {
		return "", "", err
	}
	direct, archive := src.Resolve(date)
	return direct, archive, nil
}

// Resolve expands the source's templates for the given date.
func (s *Source) Resolve(date time.Time) (directURL, archiveURL string) {
	direct := s.DirectURL
	if direct == "" {
		direct = s.SnapshotURL
	}
	direct = strings.ReplaceAll(direct, placeholderDate, date.Format("20060102"))

	archive := s.ArchiveURL
	if archive != "" {
		monthFirst := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
		archive = strings.ReplaceAll(archive, placeholderMonthFirst, monthFirst.Format("20060102"))
		archive = strings.ReplaceAll(archive, placeholderDate, date.Format("20060102"))
	}
	return direct, archive
}
