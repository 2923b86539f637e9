// Package media identifies uploaded files by content and keeps the local
// staging area used by blogs that collect media into their posts.
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"regexp"
	"strings"
)

// MaxUploadSize bounds a single uploaded file.
const MaxUploadSize = 32 << 20

// File is an opaque uploaded file: its bytes, the declared content type and
// the name it was uploaded with.
type File struct {
	Contents    []byte
	ContentType string

	uploadName string
	digest     string
	filename   string
}

// AddedItem is the result of storing one file.
type AddedItem struct {
	URI     string
	Created bool
}

// NewFile wraps contents. An empty content type is sniffed from the bytes.
func NewFile(contents []byte, contentType, uploadName string) *File {
	if contentType == "" {
		contentType = http.DetectContentType(contents)
	}
	sum := sha256.Sum256(contents)
	return &File{
		Contents:    contents,
		ContentType: contentType,
		uploadName:  uploadName,
		digest:      hex.EncodeToString(sum[:]),
	}
}

// FromMultipart reads an uploaded multipart file.
func FromMultipart(fh *multipart.FileHeader) (*File, error) {
	if fh.Size > MaxUploadSize {
		return nil, fmt.Errorf("file %q is larger than %d bytes", fh.Filename, MaxUploadSize)
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	contents, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(contents) > MaxUploadSize {
		return nil, fmt.Errorf("file %q is larger than %d bytes", fh.Filename, MaxUploadSize)
	}
	return NewFile(contents, fh.Header.Get("Content-Type"), fh.Filename), nil
}

// Digest is the lowercase hex SHA-256 of the contents.
func (f *File) Digest() string {
	return f.digest
}

// UploadName is the name the client sent, unsanitized.
func (f *File) UploadName() string {
	return f.uploadName
}

// Filename is the sanitized upload name without its extension (or "item")
// followed by the extension for the declared content type.
func (f *File) Filename() string {
	if f.filename != "" {
		return f.filename
	}
	base := SecureFilename(f.uploadName)
	stem := strings.Trim(strings.TrimSuffix(base, path.Ext(base)), "._")
	if stem == "" {
		stem = "item"
	}
	return stem + "." + ExtensionForContentType(f.ContentType)
}

var reUnsafeFilename = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename reduces name to a safe path component: directories are
// dropped, non-ASCII characters removed, whitespace turned into underscores
// and anything outside [A-Za-z0-9_.-] stripped.
func SecureFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	name = strings.Join(strings.Fields(b.String()), "_")
	name = reUnsafeFilename.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

var extensions = map[string]string{
	"image/jpeg":      "jpeg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"image/svg+xml":   "svg",
	"image/heic":      "heic",
	"image/avif":      "avif",
	"image/bmp":       "bmp",
	"image/tiff":      "tiff",
	"video/mp4":       "mp4",
	"video/webm":      "webm",
	"video/quicktime": "mov",
	"audio/mpeg":      "mp3",
	"audio/mp4":       "m4a",
	"audio/ogg":       "ogg",
	"audio/wav":       "wav",
	"audio/x-wav":     "wav",
	"application/pdf": "pdf",
	"text/plain":      "txt",
}

// ExtensionForContentType returns the file extension, without a dot, for a
// MIME type. Unknown types fall back to the system MIME table, then "bin".
func ExtensionForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}
