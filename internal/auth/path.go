package auth

import "strings"

// NormalizePath strips the API prefix and guarantees a trailing slash, the
// shape policy objects are written in ("/v0/users/me/").
func NormalizePath(path, apiPrefix string) string {
	if apiPrefix != "" && strings.HasPrefix(path, apiPrefix) {
		path = strings.TrimPrefix(path, apiPrefix)
	}
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}
