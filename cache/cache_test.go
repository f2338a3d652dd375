package cache

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetCachePath(t *testing.T) {
	path := GetCachePath("boulangerie")

	assert.Contains(t, path, "boulangerie_")
	assert.Contains(t, path, ".json")
	// same subdomain, same file
	assert.Equal(t, path, GetCachePath("boulangerie"))
	assert.NotEqual(t, path, GetCachePath("fleuriste"))
}

func TestWriteReadClear(t *testing.T) {
	defer os.RemoveAll(cacheRoot)

	err := WriteCache("boulangerie", `{"subdomain":"boulangerie"}`)
	assert.NoError(t, err)

	content, found := ReadCache("boulangerie", time.Minute)
	assert.True(t, found)
	assert.Equal(t, `{"subdomain":"boulangerie"}`, content)

	assert.NoError(t, ClearCache("boulangerie"))

	_, found = ReadCache("boulangerie", time.Minute)
	assert.False(t, found)

	// clearing an absent entry is not an error
	assert.NoError(t, ClearCache("boulangerie"))
}

func TestReadCache_Expired(t *testing.T) {
	defer os.RemoveAll(cacheRoot)

	assert.NoError(t, WriteCache("boulangerie", "{}"))

	past := time.Now().Add(-time.Hour)
	os.Chtimes(GetCachePath("boulangerie"), past, past)

	_, found := ReadCache("boulangerie", time.Minute)
	assert.False(t, found)
}

func TestExtractSubdomain(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/@/boulangerie", "boulangerie"},
		{"/@/boulangerie/", "boulangerie"},
		{"/@/boulangerie/messages", ""},
		{"/api/sites", ""},
		{"/@/", ""},
		{"/", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, extractSubdomain(tt.path), "path %s", tt.path)
	}
}
