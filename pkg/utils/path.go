package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ObjectScheme is the URL scheme used for grid files stored in S3.
const ObjectScheme = "s3://"

// IsObjectPath reports whether path names an object in a bucket rather than a local file.
func IsObjectPath(path string) bool {
	return strings.HasPrefix(path, ObjectScheme)
}

// SplitObjectPath splits "s3://bucket/key/of/object" into bucket and key.
func SplitObjectPath(path string) (bucket, key string, err error) {
	if !IsObjectPath(path) {
		return "", "", fmt.Errorf("not an object path: %s", path)
	}
	rest := strings.TrimPrefix(path, ObjectScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("object path needs bucket and key: %s", path)
	}
	return bucket, key, nil
}

// NormalizeGridPath returns the canonical form of a grid file path so that
// equivalent spellings share one cache entry. Local paths lose any file://
// prefix and are cleaned and made absolute; object paths only have duplicate
// slashes in the key collapsed.
func NormalizeGridPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if IsObjectPath(path) {
		bucket, key, err := SplitObjectPath(path)
		if err != nil {
			return "", err
		}
		for strings.Contains(key, "//") {
			key = strings.ReplaceAll(key, "//", "/")
		}
		return ObjectScheme + bucket + "/" + strings.TrimPrefix(key, "/"), nil
	}

	local := strings.TrimPrefix(path, "file://")
	if local == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	abs, err := filepath.Abs(filepath.Clean(local))
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return abs, nil
}
