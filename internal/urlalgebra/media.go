package urlalgebra

import (
	"net/url"
	"strings"
)

// mediaExtensions lists the extensions (without the leading dot) recognized
// as media/download URLs, by category, per spec §4.1's glossary entry.
var mediaExtensions = map[string]struct{}{
	// images
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "svg": {}, "ico": {}, "bmp": {},
	// video
	"mp4": {}, "mkv": {}, "avi": {}, "mov": {}, "webm": {}, "m3u8": {}, "flv": {}, "wmv": {},
	// audio
	"mp3": {}, "wav": {}, "ogg": {}, "aac": {}, "flac": {}, "m4a": {},
	// archives
	"zip": {}, "tar": {}, "gz": {}, "rar": {}, "7z": {}, "bz2": {}, "xz": {},
	// documents
	"pdf": {}, "doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {}, "odt": {}, "csv": {},
	// executables
	"exe": {}, "msi": {}, "dmg": {}, "apk": {}, "deb": {}, "rpm": {},
	// fonts
	"woff": {}, "woff2": {}, "ttf": {}, "otf": {}, "eot": {},
}

// IsMediaURL reports whether rawURL's path suffix matches a known
// image/video/audio/archive/document/executable/font extension. URLs with no
// extension are never media.
func IsMediaURL(rawURL string) bool {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	} else if i := strings.IndexAny(rawURL, "?#"); i != -1 {
		path = rawURL[:i]
	}

	i := strings.LastIndex(path, ".")
	if i == -1 || i == len(path)-1 {
		return false
	}
	ext := strings.ToLower(path[i+1:])
	if slash := strings.IndexByte(ext, '/'); slash != -1 {
		return false
	}
	_, ok := mediaExtensions[ext]
	return ok
}
