// Package wordlist reads and writes frequency-weighted word list files.
//
// One entry per line: the word, then an optional frequency and an optional
// "shortcut" marker, separated by tabs or spaces. Blank lines and lines
// starting with '#' are ignored. A missing frequency defaults to 1.
package wordlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/verte-zerg/glide/internal/model"
)

// ErrCorrupt marks a word list that could not be parsed.
var ErrCorrupt = errors.New("word list is corrupt")

const shortcutMarker = "shortcut"

// LoadEntries reads a word list from path.
func LoadEntries(path string) ([]model.LexiconEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			// Best-effort close for read-only word list.
			_ = cerr
		}
	}()
	entries, err := ReadEntries(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ReadEntries parses a word list from r.
func ReadEntries(r io.Reader) ([]model.LexiconEntry, error) {
	var entries []model.LexiconEntry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("word list is empty")
	}
	return entries, nil
}

func parseLine(line string) (model.LexiconEntry, error) {
	fields := strings.Fields(line)
	entry := model.LexiconEntry{Word: fields[0], Frequency: 1}
	if len(fields) > 3 {
		return entry, fmt.Errorf("too many fields")
	}
	if len(fields) >= 2 {
		freq, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return entry, fmt.Errorf("bad frequency %q", fields[1])
		}
		entry.Frequency = uint32(freq)
	}
	if len(fields) == 3 {
		if fields[2] != shortcutMarker {
			return entry, fmt.Errorf("unknown flag %q", fields[2])
		}
		entry.Shortcut = true
	}
	return entry, nil
}

// WriteEntries writes entries to path atomically.
func WriteEntries(path string, entries []model.LexiconEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create word list dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "wordlist-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create temp word list: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	writer := bufio.NewWriter(tmpFile)
	for _, e := range entries {
		line := e.Word + "\t" + strconv.FormatUint(uint64(e.Frequency), 10)
		if e.Shortcut {
			line += "\t" + shortcutMarker
		}
		if _, err := fmt.Fprintln(writer, line); err != nil {
			return fmt.Errorf("failed to write word list: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush word list: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close word list: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to write word list: %w", err)
	}
	return nil
}
