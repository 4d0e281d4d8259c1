package s3client

import (
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// guessContentType picks a Content-Type from the file extension, falling back
// to sniffing the content for files without a registered extension.
func guessContentType(filename string) string {
	if ext := filepath.Ext(filename); ext != "" {
		if contentType := mime.TypeByExtension(ext); contentType != "" {
			return contentType
		}
	}

	detected, err := mimetype.DetectFile(filename)
	if err != nil {
		return ""
	}
	return detected.String()
}
