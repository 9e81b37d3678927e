package documents

import (
	"archive/zip"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/dream-ai/docchat/internal/domain"
)

// ParsedDocument contains text extracted from a file
type ParsedDocument struct {
	Text     string
	FileName string
	FileType string
	Pages    int
	// SHA256 is the hex digest of the file contents.
	SHA256 string
	Size   int64
}

// ParseFile extracts text from a PDF, EPUB, plain text or markdown file.
func ParseFile(path string) (*ParsedDocument, error) {
	fileType, err := fileTypeOf(path)
	if err != nil {
		return nil, err
	}

	hash, size, err := computeFileHash(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var (
		text  string
		pages int
	)
	switch fileType {
	case "pdf":
		text, pages, err = parseFitz(path)
	case "epub":
		text, pages, err = parseFitz(path)
		if err != nil || strings.TrimSpace(text) == "" {
			text, pages, err = parseEPUBArchive(path)
		}
	default:
		var data []byte
		data, err = os.ReadFile(path)
		text, pages = string(data), 1
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s has no extractable text", domain.ErrEmptyInput, path)
	}

	return &ParsedDocument{
		Text:     text,
		FileName: filepath.Base(path),
		FileType: fileType,
		Pages:    pages,
		SHA256:   hash,
		Size:     size,
	}, nil
}

func fileTypeOf(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return "pdf", nil
	case ".epub":
		return "epub", nil
	case ".txt", ".text":
		return "text", nil
	case ".md", ".markdown":
		return "markdown", nil
	default:
		return "", fmt.Errorf("%w: unsupported file type %q", domain.ErrValidation, ext)
	}
}

// parseFitz extracts text page by page with MuPDF
func parseFitz(path string) (string, int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", 0, err
	}
	defer doc.Close()

	var parts []string
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err == nil && strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), doc.NumPage(), nil
}

// parseEPUBArchive reads the (X)HTML entries of an EPUB directly, in name order.
func parseEPUBArchive(path string) (string, int, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open EPUB as zip: %w", err)
	}
	defer r.Close()

	files := make([]*zip.File, 0, len(r.File))
	for _, f := range r.File {
		name := strings.ToLower(f.Name)
		if strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".htm") {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var parts []string
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			continue
		}
		html, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		if text := stripTags(string(html)); strings.TrimSpace(text) != "" {
			parts = append(parts, strings.Join(strings.Fields(text), " "))
		}
	}
	return strings.Join(parts, "\n\n"), len(files), nil
}

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func computeFileHash(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	hash := sha256.New()
	n, err := io.Copy(hash, file)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), n, nil
}
