// Package convert extracts plain text from uploaded lecture files.
package convert

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

// Format is a recognised input format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
	FormatHTML     Format = "html"
	FormatDOCX     Format = "docx"
)

// Detect picks a format from the content type, then the file extension.
func Detect(filename, contentType string) (Format, bool) {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "text/plain":
			return FormatText, true
		case "text/markdown", "text/x-markdown":
			return FormatMarkdown, true
		case "application/pdf":
			return FormatPDF, true
		case "text/html", "application/xhtml+xml":
			return FormatHTML, true
		case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
			return FormatDOCX, true
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".text", ".vtt", ".srt":
		return FormatText, true
	case ".md", ".markdown":
		return FormatMarkdown, true
	case ".pdf":
		return FormatPDF, true
	case ".html", ".htm":
		return FormatHTML, true
	case ".docx":
		return FormatDOCX, true
	}
	return "", false
}

// ToText returns the readable text of data.
func ToText(filename, contentType string, data []byte) (string, error) {
	format, ok := Detect(filename, contentType)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, describe(filename, contentType))
	}
	var (
		text string
		err  error
	)
	switch format {
	case FormatText, FormatMarkdown:
		text, err = plainText(data)
	case FormatPDF:
		text, err = pdfText(data)
	case FormatHTML:
		text, err = htmlText(data)
	case FormatDOCX:
		text, err = docxText(data)
	}
	if err != nil {
		return "", fmt.Errorf("extracting %s text: %w", format, err)
	}
	return strings.TrimSpace(text), nil
}

func plainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

func describe(filename, contentType string) string {
	if contentType != "" {
		return contentType
	}
	if filename != "" {
		return filename
	}
	return "unknown"
}
