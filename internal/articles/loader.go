package articles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsrag/internal/week"
	"github.com/mohammad-safakhou/newsrag/models"
)

var weekFilePattern = regexp.MustCompile(`^(combined-)?week-(\d{4}-W\d{2})\.json$`)

// envelope is the weekly file layout; bare arrays are accepted as well.
type envelope struct {
	Week     string `json:"week"`
	Articles []Raw  `json:"articles"`
}

// LoadResult reports what a directory or file load produced.
type LoadResult struct {
	Articles []models.Article
	Files    []string
	Rejected []error
}

// DecodeRecords parses either a JSON array of records, a single record, or
// an {"articles": [...]} envelope. The envelope week, if any, is returned.
func DecodeRecords(data []byte) ([]Raw, string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, "", nil
	}
	switch data[0] {
	case '[':
		var raws []Raw
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, "", fmt.Errorf("decode article list: %w", err)
		}
		return raws, "", nil
	case '{':
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, "", fmt.Errorf("decode article envelope: %w", err)
		}
		if env.Articles != nil {
			return env.Articles, env.Week, nil
		}
		var single Raw
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, "", fmt.Errorf("decode article: %w", err)
		}
		return []Raw{single}, "", nil
	default:
		return nil, "", fmt.Errorf("unexpected JSON starting with %q", data[0])
	}
}

// LoadFile reads one article file. Records without a usable date fall back
// to the start of the file's week, or to the file's modification time for
// files that are not week scoped.
func LoadFile(path string) (LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, err
	}
	raws, envWeek, err := DecodeRecords(data)
	if err != nil {
		return LoadResult{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	fallback := fileFallbackDate(path, envWeek)
	res := LoadResult{Files: []string{path}}
	for i, raw := range raws {
		a, err := Normalize(raw, fallback)
		if err != nil {
			res.Rejected = append(res.Rejected, fmt.Errorf("%s[%d]: %w", filepath.Base(path), i, err))
			continue
		}
		res.Articles = append(res.Articles, a)
	}
	return res, nil
}

// LoadDir loads every article file in dir. For a week that has both a
// combined-week file and a per-source week file, only the combined one is
// read. Later files win when two records share an id.
func LoadDir(dir string) (LoadResult, error) {
	files, err := SelectFiles(dir)
	if err != nil {
		return LoadResult{}, err
	}
	var res LoadResult
	byID := make(map[string]int)
	for _, path := range files {
		fr, err := LoadFile(path)
		if err != nil {
			res.Rejected = append(res.Rejected, err)
			continue
		}
		res.Files = append(res.Files, path)
		res.Rejected = append(res.Rejected, fr.Rejected...)
		for _, a := range fr.Articles {
			if i, ok := byID[a.ID]; ok {
				res.Articles[i] = a
				continue
			}
			byID[a.ID] = len(res.Articles)
			res.Articles = append(res.Articles, a)
		}
	}
	return res, nil
}

// SelectFiles lists the article files LoadDir reads, in load order:
// general files first, then week files oldest to newest.
func SelectFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read article dir: %w", err)
	}
	var general []string
	weekly := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !IsArticleFile(name) {
			continue
		}
		m := weekFilePattern.FindStringSubmatch(name)
		if m == nil {
			general = append(general, filepath.Join(dir, name))
			continue
		}
		tag, combined := m[2], m[1] != ""
		if _, taken := weekly[tag]; taken && !combined {
			continue
		}
		weekly[tag] = filepath.Join(dir, name)
	}
	sort.Strings(general)
	tags := make([]string, 0, len(weekly))
	for tag := range weekly {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	out := general
	for _, tag := range tags {
		out = append(out, weekly[tag])
	}
	return out, nil
}

// IsArticleFile reports whether name looks like loader output.
func IsArticleFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}

func fileFallbackDate(path, envWeek string) time.Time {
	tag := envWeek
	if m := weekFilePattern.FindStringSubmatch(filepath.Base(path)); m != nil {
		tag = m[2]
	}
	if tag != "" {
		if w, err := week.Parse(tag, time.Now()); err == nil && !w.Unbounded {
			return w.Start
		}
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime().UTC()
	}
	return time.Time{}
}
