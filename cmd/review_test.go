//go:build !integration

package main

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Document reference resolution ---

func TestResolveDocRef_NumericID(t *testing.T) {
	_, st := newTestRouter(t)
	id := seedServeDoc(t, st, "https://example.gov/files/a.pdf", "sha-ref-a", "A", "text")

	got, err := resolveDocRef(context.Background(), st, strconv.FormatInt(id, 10))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestResolveDocRef_SHA256(t *testing.T) {
	_, st := newTestRouter(t)
	sha := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	id := seedServeDoc(t, st, "https://example.gov/files/b.pdf", sha, "B", "text")

	got, err := resolveDocRef(context.Background(), st, sha)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestResolveDocRef_UnknownID(t *testing.T) {
	_, st := newTestRouter(t)

	_, err := resolveDocRef(context.Background(), st, "41")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no document with id 41")
}

func TestResolveDocRef_UnknownHash(t *testing.T) {
	_, st := newTestRouter(t)
	sha := "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"

	_, err := resolveDocRef(context.Background(), st, sha)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no document with hash")
}

func TestResolveDocRef_Malformed(t *testing.T) {
	_, st := newTestRouter(t)

	_, err := resolveDocRef(context.Background(), st, "exhibit-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither an id nor a sha256")
}

// --- Hash detection ---

func TestIsSHA256Hex(t *testing.T) {
	assert.True(t, isSHA256Hex("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	assert.True(t, isSHA256Hex("ABCDEF0123456789abcdef0123456789abcdef0123456789abcdef0123456789"))
	assert.False(t, isSHA256Hex("short"))
	assert.False(t, isSHA256Hex("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"))
	assert.False(t, isSHA256Hex(""))
}
