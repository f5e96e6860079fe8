package targets

import (
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch-go/internal/relay"
)

const (
	s3Bucket = `=~^https://s3\.test/wildwatch-events/?(\?.*)?$`
	s3Object = `=~^https://s3\.test/wildwatch-events/detections\.csv(\?.*)?$`
)

func newTestS3Sink(t *testing.T) (*S3Sink, *httpmock.MockTransport) {
	t.Helper()

	transport := httpmock.NewMockTransport()
	sink, err := NewS3Sink(&S3Config{
		Endpoint:        "s3.test",
		Region:          "us-east-1",
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		UseSSL:          true,
		Bucket:          "wildwatch-events",
		Transport:       transport,
	})
	require.NoError(t, err)
	return sink, transport
}

func objectHead(etag string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, "")
		resp.Header.Set("ETag", `"`+etag+`"`)
		resp.Header.Set("Content-Length", "0")
		resp.Header.Set("Last-Modified", "Sat, 14 Mar 2026 06:30:03 GMT")
		return resp, nil
	}
}

func TestS3Sink_EnsureContainer(t *testing.T) {
	t.Parallel()

	t.Run("bucket exists", func(t *testing.T) {
		t.Parallel()
		sink, mt := newTestS3Sink(t)
		mt.RegisterResponder(http.MethodHead, s3Bucket, httpmock.NewStringResponder(http.StatusOK, ""))

		created, err := sink.EnsureContainer(t.Context())
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("bucket created", func(t *testing.T) {
		t.Parallel()
		sink, mt := newTestS3Sink(t)
		mt.RegisterResponder(http.MethodHead, s3Bucket, httpmock.NewStringResponder(http.StatusNotFound, ""))
		mt.RegisterResponder(http.MethodPut, s3Bucket, httpmock.NewStringResponder(http.StatusOK, ""))

		created, err := sink.EnsureContainer(t.Context())
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("access denied", func(t *testing.T) {
		t.Parallel()
		sink, mt := newTestS3Sink(t)
		mt.RegisterResponder(http.MethodHead, s3Bucket, httpmock.NewStringResponder(http.StatusForbidden, ""))

		_, err := sink.EnsureContainer(t.Context())
		require.Error(t, err)
	})
}

func TestS3Sink_GetObjectVersion(t *testing.T) {
	t.Parallel()

	sink, mt := newTestS3Sink(t)
	mt.RegisterResponder(http.MethodHead, s3Object, objectHead("etag-1"))

	version, err := sink.GetObjectVersion(t.Context(), "detections.csv")
	require.NoError(t, err)
	assert.Equal(t, "etag-1", version, "quotes are stripped")
}

func TestS3Sink_GetObjectVersionMissing(t *testing.T) {
	t.Parallel()

	sink, mt := newTestS3Sink(t)
	mt.RegisterResponder(http.MethodHead, s3Object, httpmock.NewStringResponder(http.StatusNotFound, ""))

	_, err := sink.GetObjectVersion(t.Context(), "detections.csv")
	require.ErrorIs(t, err, relay.ErrObjectNotFound)
}

func TestS3Sink_UpdateChecksETag(t *testing.T) {
	t.Parallel()

	sink, mt := newTestS3Sink(t)
	mt.RegisterResponder(http.MethodHead, s3Object, objectHead("etag-2"))

	var uploaded []byte
	mt.RegisterResponder(http.MethodPut, s3Object, func(req *http.Request) (*http.Response, error) {
		uploaded, _ = io.ReadAll(req.Body)
		resp := httpmock.NewStringResponse(http.StatusOK, "")
		resp.Header.Set("ETag", `"etag-3"`)
		return resp, nil
	})

	err := sink.UpdateObject(t.Context(), "detections.csv", []byte("v2\n"), "etag-1")
	require.ErrorIs(t, err, relay.ErrConflict)
	assert.Zero(t, mt.GetCallCountInfo()["PUT "+s3Object])

	require.NoError(t, sink.UpdateObject(t.Context(), "detections.csv", []byte("v2\n"), "etag-2"))
	assert.Contains(t, string(uploaded), "v2")
}

func TestS3Sink_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	sink, mt := newTestS3Sink(t)
	require.Error(t, sink.CreateObject(t.Context(), "../other-bucket/x.csv", []byte("x")))
	assert.Zero(t, mt.GetTotalCallCount())
}

func TestNewS3Sink_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewS3Sink(&S3Config{Bucket: "events"})
	require.Error(t, err)

	_, err = NewS3Sink(&S3Config{Endpoint: "s3.test"})
	require.Error(t, err)
}
