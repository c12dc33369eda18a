// Package archive keeps one raw payload file per calendar day and works out
// which days are still missing. The presence of a day's file is the only
// signal that the day has been fetched; its content is never inspected.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roessland/wattwich/calendar"
	"github.com/spf13/afero"
)

// Extension of archive record files. File names are YYYY-MM-DD.csv.
const Extension = ".csv"

var ErrRecordExists = errors.New("archive record already exists")

// Archive is a directory of daily records.
type Archive struct {
	fs  afero.Fs
	dir string
}

// New creates an archive rooted at dir. The directory is created lazily by Write.
func New(fs afero.Fs, dir string) *Archive {
	return &Archive{fs: fs, dir: dir}
}

// Dir returns the archive directory.
func (a *Archive) Dir() string {
	return a.dir
}

// Path returns the record path for day.
func (a *Archive) Path(day calendar.Date) string {
	return filepath.Join(a.dir, day.String()+Extension)
}

// Exists reports whether day has a record.
func (a *Archive) Exists(day calendar.Date) bool {
	ok, err := afero.Exists(a.fs, a.Path(day))
	return err == nil && ok
}

// Days lists the days that have a record. A missing directory has no days.
// Files whose names do not parse as a date are ignored.
func (a *Archive) Days() (map[calendar.Date]bool, error) {
	entries, err := afero.ReadDir(a.fs, a.dir)
	if errors.Is(err, os.ErrNotExist) {
		return map[calendar.Date]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list archive %s: %w", a.dir, err)
	}

	days := make(map[calendar.Date]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, Extension) {
			continue
		}
		day, err := calendar.Parse(strings.TrimSuffix(name, Extension))
		if err != nil {
			continue
		}
		days[day] = true
	}
	return days, nil
}

// MissingDays returns the days in [start, today) without a record, oldest
// first. Today is excluded because its data is not complete yet.
func (a *Archive) MissingDays(start, today calendar.Date) ([]calendar.Date, error) {
	if !start.Before(today) {
		return nil, nil
	}

	present, err := a.Days()
	if err != nil {
		return nil, err
	}

	var missing []calendar.Date
	for _, day := range calendar.Range(start, today) {
		if !present[day] {
			missing = append(missing, day)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Before(missing[j]) })
	return missing, nil
}

// Write stores the raw payload for day. The payload goes to a temporary file
// that is renamed into place, so a crash mid-write never leaves a record that
// looks complete. Existing records are never rewritten.
func (a *Archive) Write(day calendar.Date, payload []byte) (string, error) {
	path := a.Path(day)
	if a.Exists(day) {
		return path, fmt.Errorf("%w: %s", ErrRecordExists, path)
	}

	if err := a.fs.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(a.fs, tmp, payload, 0644); err != nil {
		a.fs.Remove(tmp)
		return "", fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := a.fs.Rename(tmp, path); err != nil {
		a.fs.Remove(tmp)
		return "", fmt.Errorf("failed to move record into place: %w", err)
	}
	return path, nil
}
