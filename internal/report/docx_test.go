package report

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	testContentTypes = `<?xml version="1.0" encoding="UTF-8"?>` +
		`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
		`<Default Extension="xml" ContentType="application/xml"/>` +
		`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
		`</Types>`
	testRels = `<?xml version="1.0" encoding="UTF-8"?>` +
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`
)

// writeTemplate builds a minimal .docx whose body has one paragraph per
// entry. Each entry is split into runs on "|".
func writeTemplate(t *testing.T, dir string, paragraphs ...string) string {
	t.Helper()

	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:pPr><w:jc w:val="both"/></w:pPr>`)
		for _, run := range strings.Split(p, "|") {
			body.WriteString(`<w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">` + run + `</w:t></w:r>`)
		}
		body.WriteString(`</w:p>`)
	}
	document := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `<w:sectPr/></w:body></w:document>`

	path := filepath.Join(dir, "template.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, data := range map[string]string{
		"[Content_Types].xml":          testContentTypes,
		"word/_rels/document.xml.rels": testRels,
		"word/document.xml":            document,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(data)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close template: %v", err)
	}
	return path
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestReplaceTextAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir,
		"Test share: {{PRO|CENT}}%",
		"Seed {{RANDOM_STATE}} &amp; scheme {{COLOR}}",
		"Untouched paragraph",
	)

	doc, err := OpenDocument(path)
	if err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}
	if n := doc.ReplaceText("{{PROCENT}}", "25"); n != 1 {
		t.Fatalf("expected 1 paragraph changed, got %d", n)
	}
	doc.ReplaceText("{{RANDOM_STATE}}", "7")
	doc.ReplaceText("{{COLOR}}", "a<b")

	text := doc.Text()
	if !strings.Contains(text, "Test share: 25%\n") {
		t.Fatalf("split placeholder not replaced:\n%s", text)
	}
	if !strings.Contains(text, "Seed 7 & scheme a<b\n") {
		t.Fatalf("unexpected text:\n%s", text)
	}
	if !strings.Contains(text, "Untouched paragraph\n") {
		t.Fatalf("unrelated paragraph changed:\n%s", text)
	}

	raw := string(doc.part(documentPart).data)
	if !strings.Contains(raw, "a&lt;b") {
		t.Fatalf("replacement text not escaped")
	}
	if !strings.Contains(raw, `<w:jc w:val="both"/>`) || !strings.Contains(raw, "<w:b/>") {
		t.Fatalf("paragraph formatting lost")
	}
}

func TestReplaceMissingPlaceholderIsNoop(t *testing.T) {
	path := writeTemplate(t, t.TempDir(), "nothing to see")

	doc, err := OpenDocument(path)
	if err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}
	before := string(doc.part(documentPart).data)

	if n := doc.ReplaceText("{{MISSING}}", "x"); n != 0 {
		t.Fatalf("expected no change, got %d", n)
	}
	n, err := doc.ReplaceWithImage("{{IMAGE9}}", testPNG(t, 4, 2))
	if err != nil || n != 0 {
		t.Fatalf("ReplaceWithImage = %d, %v", n, err)
	}
	if string(doc.part(documentPart).data) != before {
		t.Fatalf("document changed by missing placeholder")
	}
	if doc.part("word/media/report_image1.png") != nil {
		t.Fatalf("image part added without a placeholder")
	}
}

func TestReplaceWithImage(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "Heatmap: {{IMAGE1}}", "after")

	doc, err := OpenDocument(path)
	if err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}
	if _, err := doc.ReplaceWithImage("{{IMAGE1}}", []byte("not a png")); err == nil {
		t.Fatalf("expected decode error")
	}

	n, err := doc.ReplaceWithImage("{{IMAGE1}}", testPNG(t, 200, 100))
	if err != nil {
		t.Fatalf("ReplaceWithImage: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 paragraph, got %d", n)
	}

	out := filepath.Join(dir, "out.docx")
	if err := doc.Save(out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved, err := OpenDocument(out)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	if strings.Contains(saved.Text(), "{{IMAGE1}}") {
		t.Fatalf("placeholder left in document")
	}
	if saved.part("word/media/report_image1.png") == nil {
		t.Fatalf("media part missing")
	}
	rels := string(saved.part(relsPart).data)
	if !strings.Contains(rels, `Id="rIdReportImage1"`) || !strings.Contains(rels, `Target="media/report_image1.png"`) {
		t.Fatalf("relationship missing: %s", rels)
	}
	if !strings.Contains(string(saved.part(contentTypesPart).data), `Extension="png"`) {
		t.Fatalf("png content type not registered")
	}

	body := string(saved.part(documentPart).data)
	if !strings.Contains(body, `r:embed="rIdReportImage1"`) {
		t.Fatalf("drawing does not reference the image")
	}
	if !strings.Contains(body, `cx="6400800" cy="3200400"`) {
		t.Fatalf("image not scaled to 7in keeping aspect ratio")
	}
}

func TestSaveFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "broken.docx")

	// zip entry names are limited to 65535 bytes
	doc := &Document{parts: []*part{
		{name: "word/document.xml", data: []byte("<w:document/>")},
		{name: strings.Repeat("a", 70000), data: []byte("x")},
	}}
	if err := doc.Save(out); err == nil {
		t.Fatalf("expected Save to fail")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("partial document left behind: %v", err)
	}
}
