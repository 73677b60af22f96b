package filetype

import "bytes"

// sniffLen is how much of the content is inspected for NUL bytes.
const sniffLen = 8192

// IsBinary detects binary content by checking for null bytes.
func IsBinary(data []byte) bool {
	sample := data
	if len(sample) > sniffLen {
		sample = sample[:sniffLen]
	}
	return bytes.IndexByte(sample, 0) >= 0
}

// DetectMIME detects a MIME type from magic bytes. It returns an empty
// string when the signature is not recognized.
func DetectMIME(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return "image/gif"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case bytes.HasPrefix(data, []byte("PK")):
		return "application/zip"
	case bytes.HasPrefix(data, []byte{0x7F, 'E', 'L', 'F'}):
		return "application/x-elf"
	case bytes.HasPrefix(data, []byte("MZ")):
		return "application/x-msdownload"
	default:
		return ""
	}
}

// Refine adjusts a name-based hint using fetched content. Text and unknown
// names whose content is binary become Binary; image and PDF hints take the
// MIME type confirmed by magic bytes.
func Refine(h Hint, data []byte) Hint {
	switch h.Type {
	case Image, PDF:
		if mime := DetectMIME(data); mime != "" && mime != h.MIME {
			switch {
			case h.Type == Image && len(mime) > 6 && mime[:6] == "image/":
				h.MIME = mime
			case h.Type == PDF && mime == "application/pdf":
				h.MIME = mime
			}
		}
	case Text, Unknown:
		if IsBinary(data) {
			h.Type = Binary
			h.Cautious = false
			if mime := DetectMIME(data); mime != "" {
				h.MIME = mime
			} else {
				h.MIME = "application/octet-stream"
			}
		}
	}
	return h
}
