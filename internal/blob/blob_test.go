package blob_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/blob"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	url, err := store.Put(ctx, blob.ObjectKey("user-1", "doc-1", "notes.txt"), "text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	assert.True(t, strings.HasSuffix(url, "user-1/doc-1/notes.txt"))

	data, err := store.Read(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, store.Delete(ctx, url))
	_, err = store.Read(ctx, url)
	require.ErrorIs(t, err, blob.ErrNotFound)
	require.NoError(t, store.Delete(ctx, url))
}

func TestLocalStoreRejectsForeignPaths(t *testing.T) {
	ctx := context.Background()
	store, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(ctx, "../escape.txt", "", []byte("x"))
	require.Error(t, err)

	_, err = store.Read(ctx, "file:///etc/passwd")
	require.Error(t, err)

	_, err = store.Read(ctx, "s3://bucket/key")
	require.Error(t, err)
}

func TestObjectKeyStripsDirectories(t *testing.T) {
	assert.Equal(t, "u/d/report.pdf", blob.ObjectKey("u", "d", "../../report.pdf"))
	assert.Equal(t, "u/d/report.pdf", blob.ObjectKey("u", "d", `C:\tmp\report.pdf`))
	assert.Equal(t, "u/d/document", blob.ObjectKey("u", "d", ""))
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := blob.ParseS3URL("s3://docs/u/d/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "docs", bucket)
	assert.Equal(t, "u/d/a.txt", key)

	for _, bad := range []string{"file:///x", "s3://", "s3://bucket", "s3://bucket/"} {
		_, _, err := blob.ParseS3URL(bad)
		assert.Error(t, err, bad)
	}
}
