package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

const cacheRoot = "cache-data"

// GetCachePath returns the cache file path for a rendered public site.
func GetCachePath(subdomain string) string {
	hash := generateHash(subdomain)
	shortHash := hash[:16]
	return filepath.Join(cacheRoot, fmt.Sprintf("%s_%s.json", subdomain, shortHash))
}

// generateHash generates an xxHash hash for the given string
func generateHash(s string) string {
	hash := xxhash.Sum64String(s)
	return fmt.Sprintf("%016x", hash)
}

// WriteCache writes a rendered site payload to its cache file.
func WriteCache(subdomain, payload string) error {
	if err := os.MkdirAll(cacheRoot, 0755); err != nil {
		return err
	}

	return os.WriteFile(GetCachePath(subdomain), []byte(payload), 0644)
}

// ReadCache reads a cached site payload if it exists and is not expired.
func ReadCache(subdomain string, maxAge time.Duration) (string, bool) {
	cachePath := GetCachePath(subdomain)

	info, err := os.Stat(cachePath)
	if err != nil {
		return "", false
	}

	if time.Since(info.ModTime()) > maxAge {
		return "", false
	}

	content, err := os.ReadFile(cachePath)
	if err != nil {
		return "", false
	}

	return string(content), true
}

// ClearCache removes the cached payload for one site. Called on every site
// mutation so visitors never see stale content for longer than one request.
func ClearCache(subdomain string) error {
	err := os.Remove(GetCachePath(subdomain))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ClearOldCache removes cache files older than the specified duration.
func ClearOldCache(maxAge time.Duration) error {
	return filepath.Walk(cacheRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if info.IsDir() {
			return nil
		}

		if !strings.HasSuffix(path, ".json") {
			return nil
		}

		if time.Since(info.ModTime()) > maxAge {
			os.Remove(path)
		}

		return nil
	})
}
