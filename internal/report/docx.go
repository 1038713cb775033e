package report

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"image"
	_ "image/png"
	"io"
	"os"
	"regexp"
	"strings"
)

const (
	documentPart     = "word/document.xml"
	relsPart         = "word/_rels/document.xml.rels"
	contentTypesPart = "[Content_Types].xml"

	emuPerInch   = 914400
	imageWidthIn = 7
)

var (
	paragraphRe = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	textRunRe   = regexp.MustCompile(`(?s)(<w:t(?:\s[^>]*)?>)(.*?)(</w:t>)`)
)

type part struct {
	name string
	data []byte
}

// Document is an in-memory .docx package whose body paragraphs can have
// {{NAME}} placeholders substituted with text or pictures.
type Document struct {
	parts  []*part
	images int
}

func OpenDocument(path string) (*Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer zr.Close()

	d := &Document{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		d.parts = append(d.parts, &part{name: f.Name, data: data})
	}
	if d.part(documentPart) == nil {
		return nil, fmt.Errorf("template %s has no %s", path, documentPart)
	}
	return d, nil
}

func (d *Document) part(name string) *part {
	for _, p := range d.parts {
		if p.name == name {
			return p
		}
	}
	return nil
}

// ReplaceText substitutes placeholder in every paragraph that contains it.
// It reports how many paragraphs changed; zero is not an error.
func (d *Document) ReplaceText(placeholder, value string) int {
	return d.rewrite(placeholder, func(text string) (string, string) {
		return strings.ReplaceAll(text, placeholder, value), ""
	})
}

// ReplaceWithImage clears placeholder and appends the PNG as an inline
// picture, seven inches wide, at the end of each matching paragraph.
func (d *Document) ReplaceWithImage(placeholder string, png []byte) (int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(png))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width == 0 {
		return 0, fmt.Errorf("image has zero width")
	}
	cx := int64(imageWidthIn * emuPerInch)
	cy := cx * int64(cfg.Height) / int64(cfg.Width)

	var rid string
	n := d.rewrite(placeholder, func(text string) (string, string) {
		if rid == "" {
			rid = d.addImagePart(png)
		}
		return strings.ReplaceAll(text, placeholder, ""), drawingRun(rid, d.images, cx, cy)
	})
	return n, nil
}

func (d *Document) rewrite(placeholder string, fn func(text string) (newText, extraRun string)) int {
	doc := d.part(documentPart)
	changed := 0

	doc.data = paragraphRe.ReplaceAllFunc(doc.data, func(p []byte) []byte {
		runs := textRunRe.FindAllSubmatchIndex(p, -1)
		if len(runs) == 0 {
			return p
		}

		var sb strings.Builder
		for _, m := range runs {
			sb.WriteString(html.UnescapeString(string(p[m[4]:m[5]])))
		}
		text := sb.String()
		if !strings.Contains(text, placeholder) {
			return p
		}
		changed++

		newText, extra := fn(text)

		var out bytes.Buffer
		last := 0
		for i, m := range runs {
			out.Write(p[last:m[0]])
			if i == 0 {
				out.WriteString(`<w:t xml:space="preserve">`)
				_ = xml.EscapeText(&out, []byte(newText))
				out.WriteString(`</w:t>`)
			} else {
				out.WriteString(`<w:t></w:t>`)
			}
			last = m[1]
		}
		rest := p[last:]
		if extra != "" {
			closing := bytes.LastIndex(rest, []byte("</w:p>"))
			out.Write(rest[:closing])
			out.WriteString(extra)
			out.Write(rest[closing:])
		} else {
			out.Write(rest)
		}
		return out.Bytes()
	})
	return changed
}

func (d *Document) addImagePart(png []byte) string {
	d.images++
	name := fmt.Sprintf("report_image%d.png", d.images)
	rid := fmt.Sprintf("rIdReportImage%d", d.images)

	d.parts = append(d.parts, &part{name: "word/media/" + name, data: png})

	rel := fmt.Sprintf(`<Relationship Id="%s" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/%s"/>`, rid, name)
	if rels := d.part(relsPart); rels != nil {
		rels.data = bytes.Replace(rels.data, []byte("</Relationships>"), []byte(rel+"</Relationships>"), 1)
	} else {
		d.parts = append(d.parts, &part{name: relsPart, data: []byte(xml.Header +
			`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` + rel + `</Relationships>`)})
	}

	if ct := d.part(contentTypesPart); ct != nil && !bytes.Contains(ct.data, []byte(`Extension="png"`)) {
		ct.data = bytes.Replace(ct.data, []byte("</Types>"),
			[]byte(`<Default Extension="png" ContentType="image/png"/></Types>`), 1)
	}
	return rid
}

func drawingRun(rid string, id int, cx, cy int64) string {
	return fmt.Sprintf(`<w:r><w:drawing>`+
		`<wp:inline distT="0" distB="0" distL="0" distR="0" xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing">`+
		`<wp:extent cx="%[3]d" cy="%[4]d"/>`+
		`<wp:docPr id="%[2]d" name="Picture %[2]d"/>`+
		`<wp:cNvGraphicFramePr><a:graphicFrameLocks xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" noChangeAspect="1"/></wp:cNvGraphicFramePr>`+
		`<a:graphic xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">`+
		`<a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:pic xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:nvPicPr><pic:cNvPr id="%[2]d" name="report_image%[2]d.png"/><pic:cNvPicPr/></pic:nvPicPr>`+
		`<pic:blipFill><a:blip r:embed="%[1]s" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>`+
		`<pic:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="%[3]d" cy="%[4]d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></pic:spPr>`+
		`</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r>`,
		rid, id+1000, cx, cy)
}

// Text returns the concatenated text of every body paragraph, one per line.
func (d *Document) Text() string {
	doc := d.part(documentPart)
	var sb strings.Builder
	for _, p := range paragraphRe.FindAll(doc.data, -1) {
		for _, m := range textRunRe.FindAllSubmatch(p, -1) {
			sb.WriteString(html.UnescapeString(string(m[2])))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (d *Document) Save(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	// a half-written document is removed rather than left behind
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	zw := zip.NewWriter(f)
	for _, p := range d.parts {
		w, err := zw.Create(p.name)
		if err != nil {
			return fmt.Errorf("write %s: %w", p.name, err)
		}
		if _, err := w.Write(p.data); err != nil {
			return fmt.Errorf("write %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize document: %w", err)
	}
	return f.Close()
}
