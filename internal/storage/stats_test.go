package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listPageOne = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult>
  <Name>test-bucket</Name>
  <Prefix>camera/</Prefix>
  <KeyCount>2</KeyCount>
  <IsTruncated>true</IsTruncated>
  <NextContinuationToken>token-2</NextContinuationToken>
  <Contents>
    <Key>camera/2026/03/14/front.mp4</Key>
    <Size>1000</Size>
    <LastModified>2026-03-14T10:00:00.000Z</LastModified>
    <ETag>"a"</ETag>
  </Contents>
  <Contents>
    <Key>camera/2026/03/14/snap.jpg</Key>
    <Size>200</Size>
    <LastModified>2026-03-14T11:30:00.000Z</LastModified>
    <ETag>"b"</ETag>
  </Contents>
</ListBucketResult>`

const listPageTwo = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult>
  <Name>test-bucket</Name>
  <Prefix>camera/</Prefix>
  <KeyCount>1</KeyCount>
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>camera/2026/03/15/rear.mp4</Key>
    <Size>3000</Size>
    <LastModified>2026-03-15T08:00:00.000Z</LastModified>
    <ETag>"c"</ETag>
  </Contents>
</ListBucketResult>`

func TestStats_AggregatesAcrossPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.URL.Query().Get("prefix"); got != "camera/" {
			t.Errorf("expected prefix camera/, got %q", got)
		}
		w.Header().Set("Content-Type", "application/xml")
		if r.URL.Query().Get("continuation-token") == "token-2" {
			_, _ = w.Write([]byte(listPageTwo))
			return
		}
		_, _ = w.Write([]byte(listPageOne))
	}))
	defer server.Close()

	transfer := NewS3TransfererWithClient(newTestClient(server.URL), "test-bucket", TransferOptions{})

	stats, err := transfer.Stats(context.Background(), "camera/")
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TotalObjects)
	assert.Equal(t, int64(4200), stats.TotalBytes)

	require.Contains(t, stats.ByExtension, ".mp4")
	require.Contains(t, stats.ByExtension, ".jpg")
	assert.Equal(t, int64(2), stats.ByExtension[".mp4"].Count)
	assert.Equal(t, int64(4000), stats.ByExtension[".mp4"].Bytes)
	assert.Equal(t, int64(1), stats.ByExtension[".jpg"].Count)

	assert.Equal(t, "camera/2026/03/14/front.mp4", stats.OldestKey)
	assert.Equal(t, "camera/2026/03/15/rear.mp4", stats.NewestKey)
	assert.Equal(t, time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC), stats.OldestModified.UTC())
	assert.Equal(t, time.Date(2026, time.March, 15, 8, 0, 0, 0, time.UTC), stats.NewestModified.UTC())
}

func TestStats_EmptyPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult>
  <Name>test-bucket</Name>
  <Prefix>camera/</Prefix>
  <KeyCount>0</KeyCount>
  <IsTruncated>false</IsTruncated>
</ListBucketResult>`))
	}))
	defer server.Close()

	transfer := NewS3TransfererWithClient(newTestClient(server.URL), "test-bucket", TransferOptions{})

	stats, err := transfer.Stats(context.Background(), "camera/")
	require.NoError(t, err)

	assert.Equal(t, int64(0), stats.TotalObjects)
	assert.Empty(t, stats.ByExtension)
	assert.Empty(t, stats.OldestKey)
}

func TestStats_MissingBucket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error>
  <Code>NoSuchBucket</Code>
  <Message>The specified bucket does not exist</Message>
</Error>`))
	}))
	defer server.Close()

	transfer := NewS3TransfererWithClient(newTestClient(server.URL), "missing-bucket", TransferOptions{})

	_, err := transfer.Stats(context.Background(), "camera/")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBucketNotFound)
}
