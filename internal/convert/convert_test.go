package convert

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		filename, contentType string
		want                  Format
		ok                    bool
	}{
		{"notes.txt", "", FormatText, true},
		{"", "text/plain; charset=utf-8", FormatText, true},
		{"README.MD", "", FormatMarkdown, true},
		{"deck.pdf", "application/octet-stream", FormatPDF, true},
		{"page.htm", "", FormatHTML, true},
		{"x", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", FormatDOCX, true},
		{"video.mp4", "video/mp4", "", false},
	}
	for _, tt := range tests {
		got, ok := Detect(tt.filename, tt.contentType)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Detect(%q, %q) = %q, %v; want %q, %v", tt.filename, tt.contentType, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPlainText(t *testing.T) {
	got, err := ToText("t.txt", "", []byte("\xef\xbb\xbfHello class.\r\nToday we start.\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello class.\nToday we start." {
		t.Errorf("got %q", got)
	}

	if _, err := ToText("t.txt", "", []byte{0xff, 0xfe, 0x00}); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestHTMLText(t *testing.T) {
	page := `<html><head><title>skip</title><style>p{}</style></head>
<body><h1>Cells</h1><p>The   cell is the <b>unit</b> of life.</p>
<script>alert(1)</script><p>Questions?</p></body></html>`
	got, err := ToText("page.html", "", []byte(page))
	if err != nil {
		t.Fatal(err)
	}
	want := "Cells\nThe cell is the unit of life.\nQuestions?"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDOCXText(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("word/document.xml")
	w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>First </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
<w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>
</w:body></w:document>`))
	zw.Close()

	got, err := ToText("lecture.docx", "", buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if got != "First paragraph.\nSecond paragraph." {
		t.Errorf("got %q", got)
	}
}

func TestDOCXMissingBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.Create("other.xml")
	zw.Close()
	if _, err := ToText("x.docx", "", buf.Bytes()); err == nil {
		t.Error("expected error")
	}
}

func TestUnsupported(t *testing.T) {
	_, err := ToText("clip.mp4", "video/mp4", []byte("x"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestInvalidPDF(t *testing.T) {
	if _, err := ToText("deck.pdf", "", []byte("not a pdf")); err == nil {
		t.Error("expected error for malformed pdf")
	}
}
