package articles

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDecodeRecords(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		in       string
		wantLen  int
		wantWeek string
	}{
		{"list", `[{"title":"a","link":"https://x.io/a"},{"title":"b","link":"https://x.io/b"}]`, 2, ""},
		{"envelope", `{"week":"2025-W07","articles":[{"title":"a","link":"https://x.io/a"}]}`, 1, "2025-W07"},
		{"single", `{"title":"a","url":"https://x.io/a"}`, 1, ""},
		{"empty", `   `, 0, ""},
	}
	for _, tc := range cases {
		raws, wk, err := DecodeRecords([]byte(tc.in))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(raws) != tc.wantLen || wk != tc.wantWeek {
			t.Fatalf("%s: got %d records week %q", tc.name, len(raws), wk)
		}
	}
	if _, _, err := DecodeRecords([]byte(`"nope"`)); err == nil {
		t.Fatalf("expected error for scalar JSON")
	}
}

func TestSelectFilesPrefersCombined(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "week-2025-W07.json", `[]`)
	writeFile(t, dir, "combined-week-2025-W07.json", `[]`)
	writeFile(t, dir, "week-2025-W06.json", `[]`)
	writeFile(t, dir, "breaking.json", `[]`)
	writeFile(t, dir, ".partial.json", `[]`)
	writeFile(t, dir, "notes.txt", `x`)

	files, err := SelectFiles(dir)
	if err != nil {
		t.Fatalf("SelectFiles: %v", err)
	}
	want := []string{"breaking.json", "week-2025-W06.json", "combined-week-2025-W07.json"}
	if len(files) != len(want) {
		t.Fatalf("files = %v", files)
	}
	for i, name := range want {
		if filepath.Base(files[i]) != name {
			t.Fatalf("files = %v, want %v", files, want)
		}
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "combined-week-2025-W07.json", `{"week":"2025-W07","articles":[
		{"title":"Chip export rules","link":"https://example.com/chips","date":"2025-02-11T08:00:00Z","source":"Wire","summary":"Rules tighten."},
		{"title":"Undated","link":"https://example.com/undated","summary":"No date given."},
		{"title":"","link":"https://example.com/untitled"}
	]}`)
	writeFile(t, dir, "breaking.json", `[{"title":"Old chip story","link":"https://EXAMPLE.com/chips?utm_source=x","date":"2025-02-01"}]`)
	writeFile(t, dir, "broken.json", `{not json`)

	res, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(res.Articles) != 2 {
		t.Fatalf("expected 2 articles, got %d: %+v", len(res.Articles), res.Articles)
	}
	// the week file is read after the general file and replaces the same id
	if res.Articles[0].Title != "Chip export rules" {
		t.Fatalf("later file did not win: %q", res.Articles[0].Title)
	}
	undated := res.Articles[1]
	if want := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC); !undated.PublishedAt.Equal(want) {
		t.Fatalf("undated article published %v, want week start %v", undated.PublishedAt, want)
	}
	if len(res.Rejected) != 2 {
		t.Fatalf("expected broken file and untitled record rejected, got %v", res.Rejected)
	}
}
