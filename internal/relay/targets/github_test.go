package targets

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch-go/internal/httpclient"
	"github.com/tphakala/wildwatch-go/internal/relay"
)

const (
	testAPI   = "https://api.github.test"
	testToken = "ghp_testtoken"
	repoURL   = testAPI + "/repos/ranger/wildwatch-events"
	objURL    = repoURL + "/contents/detections.csv"
)

func newTestGitHubSink(t *testing.T, owner string) *GitHubSink {
	t.Helper()

	client := httpclient.New(nil)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	sink, err := NewGitHubSink(&GitHubConfig{
		APIURL:         testAPI,
		Owner:          owner,
		Repository:     "wildwatch-events",
		Private:        true,
		Token:          testToken,
		CommitterName:  "wildwatch",
		CommitterEmail: "wildwatch@localhost",
	}, client)
	require.NoError(t, err)
	return sink
}

func requireAuth(t *testing.T, req *http.Request) {
	t.Helper()
	assert.Equal(t, "Bearer "+testToken, req.Header.Get("Authorization"))
	assert.Equal(t, githubAPIVersion, req.Header.Get("X-GitHub-Api-Version"))
	assert.Equal(t, githubMediaType, req.Header.Get("Accept"))
}

func decodePut(t *testing.T, req *http.Request) githubPutContent {
	t.Helper()
	var body githubPutContent
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	return body
}

// Tests using httpmock.ActivateNonDefault share global responder state and
// do not run in parallel.

func TestGitHubSink_EnsureContainerFound(t *testing.T) {
	sink := newTestGitHubSink(t, "ranger")

	httpmock.RegisterResponder(http.MethodGet, repoURL, func(req *http.Request) (*http.Response, error) {
		requireAuth(t, req)
		return httpmock.NewJsonResponse(http.StatusOK, githubRepo{FullName: "ranger/wildwatch-events"})
	})

	created, err := sink.EnsureContainer(t.Context())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGitHubSink_EnsureContainerCreatesForTokenOwner(t *testing.T) {
	sink := newTestGitHubSink(t, "")

	httpmock.RegisterResponder(http.MethodGet, testAPI+"/user",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, githubUser{Login: "ranger"}))
	httpmock.RegisterResponder(http.MethodGet, repoURL,
		httpmock.NewStringResponder(http.StatusNotFound, `{"message":"Not Found"}`))
	httpmock.RegisterResponder(http.MethodPost, testAPI+"/user/repos", func(req *http.Request) (*http.Response, error) {
		requireAuth(t, req)
		var body githubCreateRepo
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, githubCreateRepo{Name: "wildwatch-events", Private: true, AutoInit: true}, body)
		return httpmock.NewJsonResponse(http.StatusCreated, githubRepo{FullName: "ranger/wildwatch-events"})
	})

	created, err := sink.EnsureContainer(t.Context())
	require.NoError(t, err)
	assert.True(t, created)

	// login is cached
	_, err = sink.EnsureContainer(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetCallCountInfo()["GET "+testAPI+"/user"])
}

func TestGitHubSink_EnsureContainerCreatesInOrganisation(t *testing.T) {
	sink := newTestGitHubSink(t, "wildlife-trust")
	orgRepo := testAPI + "/repos/wildlife-trust/wildwatch-events"

	httpmock.RegisterResponder(http.MethodGet, orgRepo, httpmock.NewStringResponder(http.StatusNotFound, ""))
	httpmock.RegisterResponder(http.MethodGet, testAPI+"/user",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, githubUser{Login: "ranger"}))
	httpmock.RegisterResponder(http.MethodPost, testAPI+"/orgs/wildlife-trust/repos",
		httpmock.NewJsonResponderOrPanic(http.StatusCreated, githubRepo{FullName: "wildlife-trust/wildwatch-events"}))

	created, err := sink.EnsureContainer(t.Context())
	require.NoError(t, err)
	assert.True(t, created)
}

func TestGitHubSink_EnsureContainerRaceTreatedAsFound(t *testing.T) {
	sink := newTestGitHubSink(t, "ranger")

	httpmock.RegisterResponder(http.MethodGet, repoURL, httpmock.NewStringResponder(http.StatusNotFound, ""))
	httpmock.RegisterResponder(http.MethodGet, testAPI+"/user",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, githubUser{Login: "ranger"}))
	httpmock.RegisterResponder(http.MethodPost, testAPI+"/user/repos",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"message":"name already exists on this account"}`))

	created, err := sink.EnsureContainer(t.Context())
	require.NoError(t, err)
	assert.False(t, created)
}

func TestGitHubSink_EnsureContainerUnauthorized(t *testing.T) {
	sink := newTestGitHubSink(t, "ranger")
	httpmock.RegisterResponder(http.MethodGet, repoURL,
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"message":"Bad credentials"}`))

	_, err := sink.EnsureContainer(t.Context())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)
}

func TestGitHubSink_GetObjectVersion(t *testing.T) {
	sink := newTestGitHubSink(t, "ranger")
	sink.cfg.Branch = "main"

	httpmock.RegisterResponderWithQuery(http.MethodGet, objURL, "ref=main",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, githubContent{Type: "file", SHA: "abc123"}))

	version, err := sink.GetObjectVersion(t.Context(), "detections.csv")
	require.NoError(t, err)
	assert.Equal(t, "abc123", version)
}

func TestGitHubSink_GetObjectVersionMissing(t *testing.T) {
	sink := newTestGitHubSink(t, "ranger")
	httpmock.RegisterResponder(http.MethodGet, objURL, httpmock.NewStringResponder(http.StatusNotFound, ""))

	_, err := sink.GetObjectVersion(t.Context(), "detections.csv")
	require.ErrorIs(t, err, relay.ErrObjectNotFound)
}

func TestGitHubSink_GetObjectVersionDirectory(t *testing.T) {
	sink := newTestGitHubSink(t, "ranger")
	httpmock.RegisterResponder(http.MethodGet, objURL,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, githubContent{Type: "dir", SHA: "d1"}))

	_, err := sink.GetObjectVersion(t.Context(), "detections.csv")
	require.Error(t, err)
	assert.NotErrorIs(t, err, relay.ErrObjectNotFound)
}

func TestGitHubSink_UpdateSendsShaAndContent(t *testing.T) {
	sink := newTestGitHubSink(t, "ranger")
	content := []byte("timestamp,class_name\n")

	httpmock.RegisterResponder(http.MethodPut, objURL, func(req *http.Request) (*http.Response, error) {
		requireAuth(t, req)
		body := decodePut(t, req)
		assert.Equal(t, "abc123", body.SHA)
		assert.Equal(t, base64.StdEncoding.EncodeToString(content), body.Content)
		assert.Equal(t, "wildwatch: update detections.csv", body.Message)
		require.NotNil(t, body.Committer)
		assert.Equal(t, "wildwatch", body.Committer.Name)
		return httpmock.NewStringResponse(http.StatusOK, `{"content":{"sha":"def456"}}`), nil
	})

	require.NoError(t, sink.UpdateObject(t.Context(), "detections.csv", content, "abc123"))
}

func TestGitHubSink_PutStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"stale sha", http.StatusConflict, relay.ErrConflict},
		{"validation failure", http.StatusUnprocessableEntity, relay.ErrConflict},
		{"deleted concurrently", http.StatusNotFound, relay.ErrObjectNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newTestGitHubSink(t, "ranger")
			httpmock.RegisterResponder(http.MethodPut, objURL, httpmock.NewStringResponder(tt.status, `{}`))

			err := sink.UpdateObject(t.Context(), "detections.csv", []byte("x"), "abc123")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGitHubSink_ServerErrorIsNotASentinel(t *testing.T) {
	sink := newTestGitHubSink(t, "ranger")
	httpmock.RegisterResponder(http.MethodPut, objURL, httpmock.NewStringResponder(http.StatusBadGateway, ""))

	err := sink.CreateObject(t.Context(), "detections.csv", []byte("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, relay.ErrConflict)
	assert.NotErrorIs(t, err, relay.ErrObjectNotFound)
}

func TestGitHubSink_CreateOmitsSha(t *testing.T) {
	sink := newTestGitHubSink(t, "ranger")

	httpmock.RegisterResponder(http.MethodPut, repoURL+"/contents/2026/device-01.csv", func(req *http.Request) (*http.Response, error) {
		body := decodePut(t, req)
		assert.Empty(t, body.SHA)
		return httpmock.NewStringResponse(http.StatusCreated, `{}`), nil
	})

	require.NoError(t, sink.CreateObject(t.Context(), "2026/device-01.csv", []byte("x")))
}

func TestGitHubSink_RelayFirstRun(t *testing.T) {
	sink := newTestGitHubSink(t, "ranger")

	httpmock.RegisterResponder(http.MethodGet, repoURL,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, githubRepo{FullName: "ranger/wildwatch-events"}))
	httpmock.RegisterResponder(http.MethodGet, objURL, httpmock.NewStringResponder(http.StatusNotFound, ""))
	httpmock.RegisterResponder(http.MethodPut, objURL, httpmock.NewStringResponder(http.StatusCreated, `{}`))

	r, err := relay.New(relay.Config{Object: "detections.csv"}, sink, bytesSource("header\n"))
	require.NoError(t, err)

	res := r.Run(t.Context(), false)
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, relay.ObjectCreated, res.Object)

	// unchanged content is not resent
	res = r.Run(t.Context(), false)
	assert.Equal(t, relay.ObjectUnchanged, res.Object)
	assert.Equal(t, 1, httpmock.GetCallCountInfo()["PUT "+objURL])
}

func TestNewGitHubSink_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewGitHubSink(&GitHubConfig{Repository: "events"}, nil)
	require.Error(t, err, "token required")

	_, err = NewGitHubSink(&GitHubConfig{Token: "t", Repository: "owner/events"}, nil)
	require.Error(t, err, "repository must be a bare name")

	sink, err := NewGitHubSink(&GitHubConfig{Token: "t", Repository: "events"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com", sink.cfg.APIURL)
}
