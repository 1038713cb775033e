package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

var allPlaceholders = []string{
	"Share {{PROCENT}}%, seed {{RANDOM_STATE}}, palette {{COLOR}}",
	"{{IMAGE1}}",
	"Train rows: {{LEANING}}",
	"Test rows: {{TEST}}",
	"{{ROOT_MEAN1}}",
	"{{R1}}",
	"{{IMAGE2}}",
	"{{ROOT_MEAN2}}",
	"{{R2}}",
	"{{IMAGE3}}",
}

func writeDataset(t *testing.T, dir string, rows int) string {
	t.Helper()
	levels := []string{"EN", "MI", "SE", "EX"}
	types := []string{"FT", "PT", "CT", "FL"}
	sizes := []string{"S", "M", "L"}

	var sb strings.Builder
	sb.WriteString(",work_year,experience_level,employment_type,job_title,salary,salary_currency,salary_in_usd,employee_residence,remote_ratio,company_location,company_size\n")
	for i := 0; i < rows; i++ {
		year := 2020 + i%3
		level := levels[i%len(levels)]
		usd := 40000 + 15000*(i%len(levels)) + 2000*(year-2020) + 137*(i%7)
		fmt.Fprintf(&sb, "%d,%d,%s,%s,Data Scientist,%d,USD,%d,US,%d,US,%s\n",
			i, year, level, types[(i/3)%len(types)], usd, usd, 50*(i%3), sizes[i%len(sizes)])
	}

	path := filepath.Join(dir, "ds_salaries.csv")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return path
}

func TestGenerateWith(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	g := NewGenerator(writeTemplate(t, dir, allPlaceholders...), writeDataset(t, dir, 60), outDir, nil)
	params := Params{Percent: 25, Seed: 7, Scheme: "smooth-blue-red"}

	path, err := g.GenerateWith(context.Background(), params)
	if err != nil {
		t.Fatalf("GenerateWith: %v", err)
	}
	if filepath.Dir(path) != outDir || filepath.Ext(path) != ".docx" {
		t.Fatalf("unexpected output path %s", path)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary charts left behind: %v", entries)
	}

	doc, err := OpenDocument(path)
	if err != nil {
		t.Fatalf("open generated report: %v", err)
	}
	text := doc.Text()
	if strings.Contains(text, "{{") {
		t.Fatalf("placeholders left in report:\n%s", text)
	}

	split, _ := TrainTestSplit(60, params.Fraction(), params.Seed)
	for _, want := range []string{
		"Share 25%, seed 7, palette smooth-blue-red",
		"Train rows: " + strconv.Itoa(len(split.Train)),
		"Test rows: " + strconv.Itoa(len(split.Test)),
		"Root Mean Squared Error (RMSE): ",
		"R2: ",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("report misses %q:\n%s", want, text)
		}
	}
	if len(split.Train) != 45 || len(split.Test) != 15 {
		t.Fatalf("unexpected split %d/%d", len(split.Train), len(split.Test))
	}

	for i := 1; i <= 3; i++ {
		if doc.part(fmt.Sprintf("word/media/report_image%d.png", i)) == nil {
			t.Fatalf("chart %d not embedded", i)
		}
	}
}

func TestGenerateMissingTemplate(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator(filepath.Join(dir, "absent.docx"), writeDataset(t, dir, 20), dir, nil)
	if _, err := g.Generate(context.Background()); err == nil {
		t.Fatalf("expected error for missing template")
	}
}

func TestDrawParamsRange(t *testing.T) {
	known := map[string]bool{}
	for _, s := range ColorSchemes {
		known[s] = true
		if _, err := schemePalette(s); err != nil {
			t.Fatalf("scheme %s: %v", s, err)
		}
	}
	for i := 0; i < 2000; i++ {
		p := DrawParams()
		if p.Percent < 10 || p.Percent > 35 {
			t.Fatalf("percent out of range: %d", p.Percent)
		}
		if p.Seed < 0 || p.Seed > 150 {
			t.Fatalf("seed out of range: %d", p.Seed)
		}
		if !known[p.Scheme] {
			t.Fatalf("unknown scheme %q", p.Scheme)
		}
	}
}
