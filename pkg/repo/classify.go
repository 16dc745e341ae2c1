package repo

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// tabularExtensions maps the extensions pkg/tabular's Engine
// implementations actually parse to the "tabular" DataType, so Add
// can tell commit.go's ContentProvider path which files SchemaNode
// construction applies to. Extend this alongside pkg/tabular as new
// engines are added.
var tabularExtensions = map[string]bool{
	".csv": true,
	".tsv": true,
}

// dataTypeFor classifies a file's spec.md §4.2 data_type field.
// Tabular formats are recognized by extension, matching how
// pkg/tabular itself dispatches; everything else falls back to a
// text-vs-binary sniff of its content, since no third-party library in
// the example pack addresses content classification and
// http.DetectContentType already gives a reasonable binary/text split
// without reimplementing libmagic.
func dataTypeFor(name string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if tabularExtensions[ext] {
		return "tabular"
	}
	sniffed := http.DetectContentType(content)
	if strings.HasPrefix(sniffed, "text/") {
		return "text"
	}
	return "binary"
}

// mimeTypeFor resolves a file's MIME type, preferring the extension
// registry (stable across platforms, and what spec.md's mime_type
// field is meant to record) and falling back to content sniffing for
// extensions mime.TypeByExtension doesn't recognize.
func mimeTypeFor(name string, content []byte) string {
	ext := filepath.Ext(name)
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return http.DetectContentType(content)
}

// extensionFor returns name's extension with the leading dot trimmed,
// the form spec.md's extension field records ("csv", not ".csv").
func extensionFor(name string) string {
	return strings.TrimPrefix(filepath.Ext(name), ".")
}
