package targets

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/httpclient"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

const (
	sinkGitHub       = "github"
	githubAPIVersion = "2022-11-28"
	githubMediaType  = "application/vnd.github+json"
)

// GitHubConfig configures the GitHub contents API sink. The repository name
// is the container.
type GitHubConfig struct {
	APIURL         string
	Owner          string // empty resolves to the token owner
	Repository     string
	Branch         string // empty uses the default branch
	Private        bool
	Token          string
	CommitterName  string
	CommitterEmail string
	Timeout        time.Duration
}

// GitHubSink stores objects as files in a GitHub repository.
type GitHubSink struct {
	cfg    GitHubConfig
	client *httpclient.Client
	header http.Header
	log    logger.Logger

	mu    sync.Mutex
	login string // authenticated user, resolved lazily
}

type githubUser struct {
	Login string `json:"login"`
}

type githubRepo struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

type githubCreateRepo struct {
	Name     string `json:"name"`
	Private  bool   `json:"private"`
	AutoInit bool   `json:"auto_init"`
}

type githubContent struct {
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type githubCommitter struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubPutContent struct {
	Message   string           `json:"message"`
	Content   string           `json:"content"`
	SHA       string           `json:"sha,omitempty"`
	Branch    string           `json:"branch,omitempty"`
	Committer *githubCommitter `json:"committer,omitempty"`
}

// NewGitHubSink creates a GitHub sink. The token is only ever sent in the
// Authorization header.
func NewGitHubSink(cfg *GitHubConfig, client *httpclient.Client) (*GitHubSink, error) {
	if cfg.Token == "" {
		return nil, errors.Newf("github sink requires a token").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Repository == "" || strings.Contains(cfg.Repository, "/") {
		return nil, errors.Newf("invalid github repository name %q", cfg.Repository).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("setting", "api_url").
			Build()
	}
	if client == nil {
		client = httpclient.New(&httpclient.Config{DefaultTimeout: timeoutOr(cfg.Timeout)})
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)
	header.Set("X-GitHub-Api-Version", githubAPIVersion)

	return &GitHubSink{
		cfg:    *cfg,
		client: client,
		header: header,
		log:    getLogger(sinkGitHub),
	}, nil
}

// Name implements relay.Sink.
func (s *GitHubSink) Name() string { return sinkGitHub }

// Container implements relay.Sink.
func (s *GitHubSink) Container() string { return s.cfg.Repository }

func (s *GitHubSink) call(ctx context.Context, method, endpoint string, in, out any) error {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	header := s.header.Clone()
	header.Set("Accept", githubMediaType)
	return s.client.DoJSON(ctx, method, s.cfg.APIURL+endpoint, header, in, out)
}

func statusOf(err error) int {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// owner resolves the repository owner, asking the API for the token owner
// when none is configured
func (s *GitHubSink) owner(ctx context.Context) (string, error) {
	if s.cfg.Owner != "" {
		return s.cfg.Owner, nil
	}
	return s.authenticatedLogin(ctx)
}

func (s *GitHubSink) authenticatedLogin(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.login != "" {
		return s.login, nil
	}

	var user githubUser
	if err := s.call(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return "", sinkError(sinkGitHub, "resolve_user", err)
	}
	if user.Login == "" {
		return "", sinkError(sinkGitHub, "resolve_user", errors.NewStd("empty login in /user response"))
	}
	s.login = user.Login
	return s.login, nil
}

// EnsureContainer looks up the repository and creates it when missing.
func (s *GitHubSink) EnsureContainer(ctx context.Context) (bool, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return false, err
	}

	var repo githubRepo
	endpoint := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(s.cfg.Repository))
	err = s.call(ctx, http.MethodGet, endpoint, nil, &repo)
	if err == nil {
		return false, nil
	}
	if statusOf(err) != http.StatusNotFound {
		return false, sinkError(sinkGitHub, "get_repository", err)
	}

	createEndpoint := "/user/repos"
	if s.cfg.Owner != "" {
		login, err := s.authenticatedLogin(ctx)
		if err != nil {
			return false, err
		}
		if !strings.EqualFold(login, s.cfg.Owner) {
			createEndpoint = fmt.Sprintf("/orgs/%s/repos", url.PathEscape(s.cfg.Owner))
		}
	}

	body := githubCreateRepo{Name: s.cfg.Repository, Private: s.cfg.Private, AutoInit: true}
	err = s.call(ctx, http.MethodPost, createEndpoint, body, &repo)
	if statusOf(err) == http.StatusUnprocessableEntity {
		// created concurrently by another run
		return false, nil
	}
	if err != nil {
		return false, sinkError(sinkGitHub, "create_repository", err)
	}

	s.log.Info("created repository",
		logger.String("repository", repo.FullName),
		logger.Bool("private", s.cfg.Private))
	return true, nil
}

func (s *GitHubSink) contentsEndpoint(ctx context.Context, objectPath string) (string, error) {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	owner, err := s.owner(ctx)
	if err != nil {
		return "", err
	}

	segments := strings.Split(cleaned, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(owner), url.PathEscape(s.cfg.Repository), strings.Join(segments, "/")), nil
}

// GetObjectVersion returns the blob sha of the file.
func (s *GitHubSink) GetObjectVersion(ctx context.Context, objectPath string) (string, error) {
	endpoint, err := s.contentsEndpoint(ctx, objectPath)
	if err != nil {
		return "", err
	}
	if s.cfg.Branch != "" {
		endpoint += "?ref=" + url.QueryEscape(s.cfg.Branch)
	}

	var content githubContent
	err = s.call(ctx, http.MethodGet, endpoint, nil, &content)
	switch {
	case statusOf(err) == http.StatusNotFound:
		return "", notFound(sinkGitHub, objectPath)
	case err != nil:
		return "", sinkError(sinkGitHub, "get_version", err)
	case content.Type != "" && content.Type != "file":
		return "", sinkError(sinkGitHub, "get_version", errors.Newf("%s is a %s, not a file", objectPath, content.Type).Build())
	}
	return content.SHA, nil
}

// UpdateObject replaces the file if its blob sha still matches version.
func (s *GitHubSink) UpdateObject(ctx context.Context, objectPath string, content []byte, version string) error {
	return s.put(ctx, objectPath, content, version, "update")
}

// CreateObject creates the file. GitHub rejects a create without sha for an
// existing file, which maps to a conflict.
func (s *GitHubSink) CreateObject(ctx context.Context, objectPath string, content []byte) error {
	return s.put(ctx, objectPath, content, "", "create")
}

func (s *GitHubSink) put(ctx context.Context, objectPath string, content []byte, sha, operation string) error {
	endpoint, err := s.contentsEndpoint(ctx, objectPath)
	if err != nil {
		return err
	}

	body := githubPutContent{
		Message: fmt.Sprintf("wildwatch: %s %s", operation, objectPath),
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     sha,
		Branch:  s.cfg.Branch,
	}
	if s.cfg.CommitterName != "" && s.cfg.CommitterEmail != "" {
		body.Committer = &githubCommitter{Name: s.cfg.CommitterName, Email: s.cfg.CommitterEmail}
	}

	err = s.call(ctx, http.MethodPut, endpoint, body, nil)
	switch statusOf(err) {
	case 0:
		if err != nil {
			return sinkError(sinkGitHub, operation, err)
		}
		return nil
	case http.StatusNotFound:
		return notFound(sinkGitHub, objectPath)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return conflict(sinkGitHub, objectPath, "sha does not match")
	default:
		return sinkError(sinkGitHub, operation, err)
	}
}

// Close releases idle connections.
func (s *GitHubSink) Close() error {
	s.client.Close()
	return nil
}
