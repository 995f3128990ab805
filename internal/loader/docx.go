package loader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultBody  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// <w:t> runs carry the text; attributes vary.
	wtRun = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// <w:p ...> opens a paragraph.
	wParagraph = regexp.MustCompile(`<w:p[ >]`)
	// Overrides list attributes in either order.
	overrideRe = regexp.MustCompile(`<Override[^>]*>`)
	partNameRe = regexp.MustCompile(`PartName="([^"]+)"`)
)

func readZipFile(zr *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		return data, true, err
	}
	return nil, false, nil
}

// docxBodyPath resolves the main document part from [Content_Types].xml,
// falling back to word/document.xml.
func docxBodyPath(zr *zip.Reader) string {
	ct, ok, err := readZipFile(zr, docxContentTypes)
	if !ok || err != nil {
		return docxDefaultBody
	}
	for _, override := range overrideRe.FindAllString(string(ct), -1) {
		if !strings.Contains(override, `ContentType="`+docxMainType+`"`) {
			continue
		}
		if m := partNameRe.FindStringSubmatch(override); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return docxDefaultBody
}

// extractDOCX collects <w:t> runs, one line per paragraph.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	path := docxBodyPath(zr)
	body, ok, err := readZipFile(zr, path)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: read %s: %w", path, err)
	}
	if !ok {
		return "", fmt.Errorf("extract DOCX: %s not found", path)
	}

	var lines []string
	for _, para := range wParagraph.Split(string(body), -1) {
		var runs []string
		for _, m := range wtRun.FindAllStringSubmatch(para, -1) {
			if s := strings.TrimSpace(m[1]); s != "" {
				runs = append(runs, s)
			}
		}
		if len(runs) > 0 {
			lines = append(lines, strings.Join(runs, " "))
		}
	}
	return strings.Join(lines, "\n"), nil
}
