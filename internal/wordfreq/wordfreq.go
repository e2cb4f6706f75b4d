// Package wordfreq imports frequency-weighted main dictionaries from the
// wordfreq dataset.
package wordfreq

import (
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/verte-zerg/glide/internal/model"
	"github.com/verte-zerg/glide/internal/wordlist"
)

const pypiEndpoint = "https://pypi.org/pypi/wordfreq/json"

// Frequencies are stored per billion words; cB bucket 0 is a frequency of 1.
const perBillion = 9.0

// Wheel describes a cached wordfreq wheel.
type Wheel struct {
	Version  string
	Path     string
	Filename string
	Cached   bool
}

type wheelURL struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	Packagetype string `json:"packagetype"`
}

type pypiResponse struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
	URLs []wheelURL `json:"urls"`
}

// DownloadLatestWheel fetches the latest wordfreq wheel into cacheDir.
func DownloadLatestWheel(ctx context.Context, cacheDir string) (Wheel, error) {
	if cacheDir == "" {
		return Wheel{}, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return Wheel{}, fmt.Errorf("failed to create cache dir: %w", err)
	}

	resp, err := httpRequest(ctx, pypiEndpoint)
	if err != nil {
		return Wheel{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return Wheel{}, fmt.Errorf("unexpected pypi status: %s", resp.Status)
	}

	var payload pypiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Wheel{}, fmt.Errorf("failed to decode pypi response: %w", err)
	}
	if payload.Info.Version == "" {
		return Wheel{}, fmt.Errorf("missing version in pypi response")
	}
	url, filename := pickWheelURL(payload.URLs)
	if url == "" {
		return Wheel{}, fmt.Errorf("no suitable wordfreq wheel found")
	}

	destPath := filepath.Join(cacheDir, filename)
	if _, err := os.Stat(destPath); err == nil {
		return Wheel{Version: payload.Info.Version, Path: destPath, Filename: filename, Cached: true}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Wheel{}, fmt.Errorf("failed to stat cached wheel: %w", err)
	}
	if err := download(ctx, url, destPath); err != nil {
		return Wheel{}, err
	}
	return Wheel{Version: payload.Info.Version, Path: destPath, Filename: filename}, nil
}

func download(ctx context.Context, url, destPath string) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "wordfreq-*.whl")
	if err != nil {
		return fmt.Errorf("failed to create temp wheel: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	resp, err := httpRequest(ctx, url)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected wheel status: %s", resp.Status)
	}
	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return fmt.Errorf("failed to download wheel: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp wheel: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to move wheel into cache: %w", err)
	}
	return nil
}

func httpRequest(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func pickWheelURL(urls []wheelURL) (string, string) {
	var fallback wheelURL
	for _, u := range urls {
		if u.Packagetype != "bdist_wheel" {
			continue
		}
		if strings.HasSuffix(u.Filename, "py3-none-any.whl") {
			return u.URL, u.Filename
		}
		if fallback.URL == "" {
			fallback = u
		}
	}
	return fallback.URL, fallback.Filename
}

// ExtractEntries reads up to limit of the most frequent words for lang from
// the wheel, with frequencies expressed per billion words.
func ExtractEntries(wheelPath, lang, listType string, limit int) ([]model.LexiconEntry, error) {
	if wheelPath == "" {
		return nil, fmt.Errorf("wheel path is required")
	}
	lang = strings.ToLower(lang)
	if lang == "" {
		return nil, fmt.Errorf("unsupported language")
	}
	if listType == "" {
		return nil, fmt.Errorf("word list type is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than 0")
	}

	buckets, err := readBuckets(wheelPath, lang, listType)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LexiconEntry, 0, limit)
	seen := make(map[string]struct{})
	keep := wordlist.FilterForLang(lang)
	for cb, words := range buckets {
		freq := bucketFrequency(cb)
		for _, word := range words {
			if _, ok := seen[word]; ok {
				continue
			}
			length := utf8.RuneCountInString(word)
			if length < 1 || length > 20 || !keep(word) {
				continue
			}
			seen[word] = struct{}{}
			entries = append(entries, model.LexiconEntry{Word: word, Frequency: freq})
			if len(entries) >= limit {
				return entries, nil
			}
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no words found for %s/%s", lang, listType)
	}
	return entries, nil
}

// bucketFrequency converts a centibel bucket index to a count per billion words.
func bucketFrequency(cb int) uint32 {
	f := math.Round(math.Pow(10, perBillion-float64(cb)/100))
	if f < 1 {
		return 1
	}
	if f > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(f)
}

func readBuckets(wheelPath, lang, listType string) ([][]string, error) {
	reader, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open wheel: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	dataFile := selectDataFile(reader.File, lang, listType)
	if dataFile == nil {
		return nil, fmt.Errorf("no data file found for %s/%s", lang, listType)
	}
	rc, err := dataFile.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	var r io.Reader = rc
	if strings.HasSuffix(dataFile.Name, ".gz") {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer func() {
			_ = gz.Close()
		}()
		r = gz
	}
	return decodeCBPack(r)
}

// decodeCBPack decodes wordfreq's cBpack layout: a header map followed by
// one word array per centibel bucket, most frequent first.
func decodeCBPack(r io.Reader) ([][]string, error) {
	var root []msgpack.RawMessage
	if err := msgpack.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to decode wordfreq data: %w", err)
	}
	if len(root) == 0 {
		return nil, fmt.Errorf("wordfreq data contained no entries")
	}
	var header map[string]any
	if err := msgpack.Unmarshal(root[0], &header); err != nil {
		return nil, fmt.Errorf("failed to decode wordfreq header: %w", err)
	}
	if format, _ := header["format"].(string); format != "cB" {
		return nil, fmt.Errorf("unsupported wordfreq format %q", format)
	}
	buckets := make([][]string, 0, len(root)-1)
	for i, raw := range root[1:] {
		var words []string
		if err := msgpack.Unmarshal(raw, &words); err != nil {
			return nil, fmt.Errorf("failed to decode bucket %d: %w", i, err)
		}
		buckets = append(buckets, words)
	}
	return buckets, nil
}

func selectDataFile(files []*zip.File, lang, listType string) *zip.File {
	var best *zip.File
	for _, file := range files {
		fileLang, fileType := parseLanguageAndType(file.Name)
		if fileLang != lang || fileType != strings.ToLower(listType) {
			continue
		}
		// Prefer the uncompressed variant when both ship.
		if best == nil || strings.HasSuffix(file.Name, ".msgpack") {
			best = file
		}
	}
	return best
}

// LanguageTypes maps language codes to available list types.
type LanguageTypes map[string]map[string]struct{}

// ListLanguageTypes returns available languages and list types in the wheel.
func ListLanguageTypes(wheelPath string) (LanguageTypes, error) {
	if wheelPath == "" {
		return nil, fmt.Errorf("wheel path is required")
	}
	reader, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open wheel: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	langs := make(LanguageTypes)
	for _, file := range reader.File {
		lang, listType := parseLanguageAndType(file.Name)
		if lang == "" || listType == "" {
			continue
		}
		if _, ok := langs[lang]; !ok {
			langs[lang] = make(map[string]struct{})
		}
		langs[lang][listType] = struct{}{}
	}
	if len(langs) == 0 {
		return nil, fmt.Errorf("no languages found in wordfreq wheel")
	}
	return langs, nil
}

// LanguagesFromTypes returns sorted language codes from the map.
func LanguagesFromTypes(types LanguageTypes) []string {
	out := make([]string, 0, len(types))
	for lang := range types {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// SelectListType picks the desired list type, falling back from large to small.
func SelectListType(available map[string]struct{}, desired string) (string, bool) {
	candidates := []string{desired}
	if desired == "large" {
		candidates = append(candidates, "small")
	}
	for _, c := range candidates {
		if _, ok := available[c]; ok {
			return c, true
		}
	}
	return "", false
}

func parseLanguageAndType(name string) (string, string) {
	name = strings.ToLower(name)
	if !strings.HasPrefix(name, "wordfreq/data/") {
		return "", ""
	}
	base := strings.TrimPrefix(name, "wordfreq/data/")
	base = strings.TrimSuffix(base, ".gz")
	if !strings.HasSuffix(base, ".msgpack") {
		return "", ""
	}
	base = strings.TrimSuffix(base, ".msgpack")
	for _, listType := range []string{"large", "small"} {
		if lang, ok := strings.CutPrefix(base, listType+"_"); ok && lang != "" {
			return lang, listType
		}
	}
	return "", ""
}

// WriteAttribution writes attribution and license files next to imported lists.
func WriteAttribution(wheelPath, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	attrText := strings.Join([]string{
		"Word lists generated from the wordfreq dataset.",
		"Source: https://github.com/rspeer/wordfreq",
		"Data license: Creative Commons Attribution-ShareAlike 4.0 International (CC BY-SA 4.0).",
		"Changes were made: filtered to alphabetic words, truncated to the requested size,",
		"and annotated with frequencies per billion words.",
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(outDir, "ATTRIBUTION.txt"), []byte(attrText), 0o644); err != nil {
		return fmt.Errorf("failed to write attribution: %w", err)
	}
	licenseText, err := readWheelLicense(wheelPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "LICENSE.txt"), licenseText, 0o644); err != nil {
		return fmt.Errorf("failed to write license: %w", err)
	}
	return nil
}

func readWheelLicense(wheelPath string) ([]byte, error) {
	reader, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open wheel for license: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	for _, file := range reader.File {
		if !strings.Contains(strings.ToLower(file.Name), "license") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open license: %w", err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read license: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("license file not found in wheel")
}
