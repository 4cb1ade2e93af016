package imageref

import "bytes"

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWEBP = "image/webp"
	MimeGIF  = "image/gif"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, 0x0A}
)

// minSniffLen is the shortest payload that can hold any of the signatures
// below, a WEBP header being the longest.
const minSniffLen = 12

// DetectImageType sniffs the magic number of data. It only recognises the
// formats the edit models accept.
func DetectImageType(data []byte) (string, bool) {
	if len(data) < minSniffLen {
		return "", false
	}
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return MimeJPEG, true
	case bytes.HasPrefix(data, pngMagic):
		return MimePNG, true
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return MimeWEBP, true
	case bytes.HasPrefix(data, []byte("GIF")):
		return MimeGIF, true
	case bytes.Equal(data[1:4], []byte("PNG")):
		// truncated or rewritten png signature, still decodable
		return MimePNG, true
	}
	return "", false
}

// ExtForMime maps a detected type to the file extension used in object keys.
func ExtForMime(mime string) string {
	switch mime {
	case MimeJPEG:
		return "jpg"
	case MimeWEBP:
		return "webp"
	case MimeGIF:
		return "gif"
	default:
		return "png"
	}
}
