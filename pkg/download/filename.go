package download

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// fallbackName is used when a URL cannot be parsed at all
const fallbackName = "download_file"

var fileNameParams = []string{"filename", "file", "name", "download", "attachment"}

var knownExtensions = map[string]bool{
	"zip": true, "rar": true, "7z": true, "tar": true, "gz": true, "exe": true, "msi": true,
	"deb": true, "rpm": true, "dmg": true, "iso": true, "pdf": true, "doc": true, "docx": true,
	"xls": true, "xlsx": true, "ppt": true, "pptx": true, "txt": true, "json": true, "xml": true,
	"mp4": true, "avi": true, "mkv": true, "mp3": true, "wav": true, "flac": true, "jpg": true,
	"png": true, "gif": true, "svg": true, "apk": true, "ipa": true, "pkg": true, "bin": true,
	"img": true, "dll": true, "so": true, "dylib": true,
}

var (
	alnum       = regexp.MustCompile(`[a-zA-Z0-9]`)
	nonAlnumRun = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// DeriveFileName guesses a file name from a download URL.
// Query parameters commonly used for names win over path segments.
func DeriveFileName(rawURL string) string {
	return deriveFileName(rawURL, time.Now())
}

func deriveFileName(rawURL string, now time.Time) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fallbackName
	}

	query := u.Query()
	for _, param := range fileNameParams {
		if name := query.Get(param); name != "" && looksLikeFileName(name) {
			return name
		}
	}

	segments := pathSegments(u.Path)
	for i := len(segments) - 1; i >= 0; i-- {
		if looksLikeFileName(segments[i]) {
			return segments[i]
		}
	}

	if n := len(segments); n > 0 {
		last := segments[n-1]
		if strings.Contains(last, ".") || len(last) > 3 {
			return last
		}
	}

	if strings.Contains(u.Hostname(), "github.com") {
		if _, after, ok := strings.Cut(u.Path, "/releases/download/"); ok {
			parts := strings.Split(after, "/")
			if name := parts[len(parts)-1]; name != "" && looksLikeFileName(name) {
				return name
			}
		}
	}

	return fallbackFileName(u, now)
}

// looksLikeFileName accepts names with a well-known extension, or
// extension-less names that are not obviously directory-like words
func looksLikeFileName(name string) bool {
	if name == "" {
		return false
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		return knownExtensions[strings.ToLower(name[i+1:])]
	}
	return len(name) > 2 && !strings.Contains(name, " ") && alnum.MatchString(name)
}

func pathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(s); err == nil {
			s = unescaped
		}
		out = append(out, s)
	}
	return out
}

// fallbackFileName builds "<host>_<unix millis><ext>"
func fallbackFileName(u *url.URL, now time.Time) string {
	host := nonAlnumRun.ReplaceAllString(u.Hostname(), "_")
	path := strings.ToLower(u.Path)
	query := u.RawQuery

	ext := ""
	if strings.Contains(path, "download") || strings.Contains(path, "file") {
		ext = ".bin"
		for _, candidate := range []string{"zip", "pdf", "exe", "apk"} {
			if strings.Contains(path, "."+candidate) || strings.Contains(query, candidate) {
				ext = "." + candidate
				break
			}
		}
	}
	return fmt.Sprintf("%s_%d%s", host, now.UnixMilli(), ext)
}
