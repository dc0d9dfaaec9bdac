package http

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchRange_RequiresPartialContent(t *testing.T) {
	srv := httptest.NewServer(okHandler("full body, not ranged"))
	defer srv.Close()

	a := New(0)
	_, err := a.FetchRange(context.Background(), srv.URL, 0, 5)
	require.Error(t, err)
}

func TestFetchRange_ReturnsExactRange(t *testing.T) {
	srv := httptest.NewServer(rangeHandler("0123456789"))
	defer srv.Close()

	a := New(0)
	data, err := a.FetchRange(context.Background(), srv.URL, 2, 3)
	require.NoError(t, err)
	require.Equal(t, "234", string(data))
}

func TestSupports_RecognizesHTTPAndHTTPS(t *testing.T) {
	a := New(0)
	require.True(t, a.Supports("http://example.com/file"))
	require.True(t, a.Supports("https://example.com/file"))
	require.False(t, a.Supports("ftp://example.com/file"))
}
