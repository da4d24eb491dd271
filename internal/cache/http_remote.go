package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	artifactsPathPrefix           = "/artifacts/"
	teamQueryParameter            = "teamId"
	authorizationHeader           = "Authorization"
	bearerPrefix                  = "Bearer "
	contentTypeHeader             = "Content-Type"
	archiveContentType            = "application/octet-stream"
	defaultRemoteTimeout          = 30 * time.Second
	remoteRequestErrorTemplate    = "remote cache request for %s failed: %w"
	remoteStatusErrorTemplate     = "remote cache returned %d for %s"
	remoteURLInvalidErrorTemplate = "invalid remote cache url %q: %w"
)

// ErrRemoteURLMissing indicates the remote cache URL was not configured.
var ErrRemoteURLMissing = errors.New("remote cache url not configured")

// HTTPRemoteOptions configures an HTTPRemote.
type HTTPRemoteOptions struct {
	URL     string
	Token   string
	Team    string
	Timeout time.Duration
	Client  *http.Client
}

// HTTPRemote talks to a remote cache over GET/PUT /artifacts/{hash}.
// A 404 is a miss; any other non-2xx status is returned as an error for the caller to degrade on.
type HTTPRemote struct {
	baseURL *url.URL
	token   string
	team    string
	client  *http.Client
}

// NewHTTPRemote constructs an HTTPRemote.
func NewHTTPRemote(options HTTPRemoteOptions) (*HTTPRemote, error) {
	if len(strings.TrimSpace(options.URL)) == 0 {
		return nil, ErrRemoteURLMissing
	}
	baseURL, parseError := url.Parse(strings.TrimRight(strings.TrimSpace(options.URL), "/"))
	if parseError != nil {
		return nil, fmt.Errorf(remoteURLInvalidErrorTemplate, options.URL, parseError)
	}
	if len(baseURL.Scheme) == 0 || len(baseURL.Host) == 0 {
		return nil, fmt.Errorf(remoteURLInvalidErrorTemplate, options.URL, errors.New("scheme and host are required"))
	}
	client := options.Client
	if client == nil {
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = defaultRemoteTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPRemote{baseURL: baseURL, token: options.Token, team: options.Team, client: client}, nil
}

// Lookup downloads and decodes the entry for hash.
func (remote *HTTPRemote) Lookup(executionContext context.Context, hash string) (Entry, bool, error) {
	request, requestError := remote.newRequest(executionContext, http.MethodGet, hash, nil)
	if requestError != nil {
		return Entry{}, false, requestError
	}
	response, responseError := remote.client.Do(request)
	if responseError != nil {
		return Entry{}, false, fmt.Errorf(remoteRequestErrorTemplate, hash, responseError)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, response.Body)
		return Entry{}, false, nil
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, response.Body)
		return Entry{}, false, fmt.Errorf(remoteStatusErrorTemplate, response.StatusCode, hash)
	}

	archive, readError := io.ReadAll(response.Body)
	if readError != nil {
		return Entry{}, false, fmt.Errorf(remoteRequestErrorTemplate, hash, readError)
	}
	entry, decodeError := DecodeArchive(hash, archive)
	if decodeError != nil {
		return Entry{}, false, decodeError
	}
	return entry, true, nil
}

// Write uploads the encoded entry.
func (remote *HTTPRemote) Write(executionContext context.Context, entry Entry) error {
	archive, encodeError := EncodeArchive(entry)
	if encodeError != nil {
		return encodeError
	}
	request, requestError := remote.newRequest(executionContext, http.MethodPut, entry.Hash, archive)
	if requestError != nil {
		return requestError
	}
	request.Header.Set(contentTypeHeader, archiveContentType)

	response, responseError := remote.client.Do(request)
	if responseError != nil {
		return fmt.Errorf(remoteRequestErrorTemplate, entry.Hash, responseError)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf(remoteStatusErrorTemplate, response.StatusCode, entry.Hash)
	}
	return nil
}

func (remote *HTTPRemote) newRequest(executionContext context.Context, method string, hash string, body []byte) (*http.Request, error) {
	if !validHash(hash) {
		return nil, fmt.Errorf(invalidHashTemplate, hash)
	}
	target := *remote.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + artifactsPathPrefix + hash
	if len(remote.team) > 0 {
		query := target.Query()
		query.Set(teamQueryParameter, remote.team)
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, requestError := http.NewRequestWithContext(executionContext, method, target.String(), reader)
	if requestError != nil {
		return nil, fmt.Errorf(remoteRequestErrorTemplate, hash, requestError)
	}
	if len(remote.token) > 0 {
		request.Header.Set(authorizationHeader, bearerPrefix+remote.token)
	}
	return request, nil
}
