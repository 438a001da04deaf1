package constants

import "strings"

const (
	// MaxUploadBytes is the size ceiling for a submitted PDF.
	MaxUploadBytes = 10 << 20
	// DefaultMaxPages is used when the caller does not ask for a page limit.
	DefaultMaxPages = 20
	// PDFMagic is the leading signature of every PDF file.
	PDFMagic = "%PDF"
)

// AllowedExtensions holds the file extensions picked up by directory ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsPDF sniffs the magic bytes of data.
func IsPDF(data []byte) bool {
	return len(data) >= len(PDFMagic) && string(data[:len(PDFMagic)]) == PDFMagic
}
