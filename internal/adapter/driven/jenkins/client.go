// Package jenkins implements the JenkinsClient port against the Jenkins
// JSON remote access API.
package jenkins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/pipeboard/pipeboard/internal/domain/model"
	"github.com/pipeboard/pipeboard/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.JenkinsClient = (*Client)(nil)

// Jenkins tree expressions keep responses small by selecting only the
// fields the sync engine needs.
const (
	jobsTree   = "jobs[name,url]"
	buildsTree = "builds[number,timestamp,result,duration,url,actions[causes[userId,userName,shortDescription]]]"
	buildTree  = "number,timestamp,result,duration,url,actions[causes[userId,userName,shortDescription]]"
)

// Client implements the driven.JenkinsClient port. All requests carry basic
// auth; state-mutating requests additionally carry a CSRF crumb which is
// cached and refreshed once when the server rejects it.
type Client struct {
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client

	mu         sync.Mutex
	crumbField string
	crumbValue string
}

// NewClient creates a Jenkins API client with an in-memory caching transport
// and a bounded request timeout.
func NewClient(baseURL, username, apiToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		apiToken: apiToken,
		httpClient: &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   timeout,
		},
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URL. This constructor is intended for testing, allowing injection of an
// httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, username, apiToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		apiToken:   apiToken,
		httpClient: httpClient,
	}
}

// ListJobs retrieves all job descriptors. An empty job list is a valid,
// successful result.
func (c *Client) ListJobs(ctx context.Context) ([]model.JobRef, error) {
	var payload struct {
		Jobs []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"jobs"`
	}

	if err := c.getJSON(ctx, "/api/json?tree="+url.QueryEscape(jobsTree), "list jobs", &payload); err != nil {
		return nil, err
	}

	jobs := make([]model.JobRef, 0, len(payload.Jobs))
	for _, j := range payload.Jobs {
		jobs = append(jobs, model.JobRef{Name: j.Name, URL: j.URL})
	}

	return jobs, nil
}

// ListBuilds retrieves the build descriptors for one job, newest first as
// Jenkins reports them. An empty build list is a valid, successful result.
func (c *Client) ListBuilds(ctx context.Context, jobName string) ([]model.Build, error) {
	var payload struct {
		Builds []buildJSON `json:"builds"`
	}

	path := "/job/" + url.PathEscape(jobName) + "/api/json?tree=" + url.QueryEscape(buildsTree)
	op := fmt.Sprintf("list builds for %s", jobName)
	if err := c.getJSON(ctx, path, op, &payload); err != nil {
		return nil, err
	}

	builds := make([]model.Build, 0, len(payload.Builds))
	for _, b := range payload.Builds {
		builds = append(builds, b.toModel())
	}

	return builds, nil
}

// GetBuild fetches a single build's details. Returns nil, nil when the build
// does not exist upstream.
func (c *Client) GetBuild(ctx context.Context, jobName string, number int64) (*model.Build, error) {
	path := fmt.Sprintf("/job/%s/%d/api/json?tree=%s", url.PathEscape(jobName), number, url.QueryEscape(buildTree))
	op := fmt.Sprintf("get build %s#%d", jobName, number)

	resp, err := c.do(ctx, http.MethodGet, path, nil, op, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus(resp, op); err != nil {
		return nil, err
	}

	var payload buildJSON
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &model.UpstreamProtocolError{Op: op, Detail: "malformed JSON body", Err: err}
	}

	build := payload.toModel()
	return &build, nil
}

// TriggerBuild starts a new build for the job. The crumb is attached and
// refreshed once if the server rejects it.
func (c *Client) TriggerBuild(ctx context.Context, jobName string) error {
	path := "/job/" + url.PathEscape(jobName) + "/build"
	op := fmt.Sprintf("trigger build for %s", jobName)

	resp, err := c.do(ctx, http.MethodPost, path, nil, op, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		// Likely a stale crumb. Fetch a fresh one and retry exactly once.
		io.Copy(io.Discard, resp.Body)
		if _, _, err := c.refreshCrumb(ctx); err != nil {
			return err
		}

		retry, err := c.do(ctx, http.MethodPost, path, nil, op, true)
		if err != nil {
			return err
		}
		defer retry.Body.Close()
		return checkStatus(retry, op)
	}

	return checkStatus(resp, op)
}

// getJSON performs an authenticated GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path, op string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, op, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, op); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.UpstreamProtocolError{Op: op, Detail: "malformed JSON body", Err: err}
	}

	return nil
}

// do builds and sends one request. withCrumb attaches the cached (or freshly
// fetched) CSRF crumb for state-mutating calls.
func (c *Client) do(ctx context.Context, method, path string, body []byte, op string, withCrumb bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &model.UpstreamProtocolError{Op: op, Detail: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" && c.apiToken != "" {
		req.SetBasicAuth(c.username, c.apiToken)
	}

	if withCrumb {
		field, value, err := c.crumb(ctx)
		if err != nil {
			return nil, err
		}
		if field != "" {
			req.Header.Set(field, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &model.UpstreamUnavailableError{Op: op, Err: err}
	}

	return resp, nil
}

// crumb returns the cached crumb, fetching it on first use. Servers with
// CSRF protection disabled answer 404 on the crumb issuer; that is cached as
// an empty crumb and requests proceed without the header.
func (c *Client) crumb(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	field, value := c.crumbField, c.crumbValue
	c.mu.Unlock()

	if field != "" {
		return field, value, nil
	}

	return c.refreshCrumb(ctx)
}

// refreshCrumb unconditionally fetches a new crumb from the issuer.
func (c *Client) refreshCrumb(ctx context.Context) (string, string, error) {
	const op = "fetch crumb"

	resp, err := c.do(ctx, http.MethodGet, "/crumbIssuer/api/json", nil, op, false)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", "", nil
	}
	if err := checkStatus(resp, op); err != nil {
		return "", "", err
	}

	var payload struct {
		CrumbRequestField string `json:"crumbRequestField"`
		Crumb             string `json:"crumb"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", "", &model.UpstreamProtocolError{Op: op, Detail: "malformed JSON body", Err: err}
	}
	if payload.CrumbRequestField == "" || payload.Crumb == "" {
		return "", "", &model.UpstreamProtocolError{Op: op, Detail: "crumb response missing fields"}
	}

	c.mu.Lock()
	c.crumbField, c.crumbValue = payload.CrumbRequestField, payload.Crumb
	c.mu.Unlock()

	return payload.CrumbRequestField, payload.Crumb, nil
}

// checkStatus maps unexpected HTTP statuses onto the upstream error
// taxonomy: 5xx means the server is unwell (retry next cycle), anything
// else non-2xx is a contract violation for the endpoints we call.
func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusFound { // build trigger answers with a queue redirect
		return nil
	}
	if resp.StatusCode >= 500 {
		return &model.UpstreamUnavailableError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return &model.UpstreamProtocolError{Op: op, Detail: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
}

// buildJSON is the wire shape of a Jenkins build under the tree expressions
// above. Result is null while the build is still executing; timestamps and
// durations are millisecond-based.
type buildJSON struct {
	Number    int64  `json:"number"`
	Timestamp int64  `json:"timestamp"`
	Duration  int64  `json:"duration"`
	Result    string `json:"result"`
	URL       string `json:"url"`
	Actions   []struct {
		Causes []causeJSON `json:"causes"`
	} `json:"actions"`
	Causes []causeJSON `json:"causes"`
}

type causeJSON struct {
	UserID           string `json:"userId"`
	UserName         string `json:"userName"`
	ShortDescription string `json:"shortDescription"`
}

func (b buildJSON) toModel() model.Build {
	build := model.Build{
		Number:      b.Number,
		Result:      b.Result,
		URL:         b.URL,
		TriggeredBy: b.triggeredBy(),
	}

	if b.Timestamp > 0 {
		t := time.UnixMilli(b.Timestamp).UTC()
		build.Timestamp = &t
	}
	if b.Duration > 0 {
		d := b.Duration
		build.DurationMS = &d
	}

	return build
}

// triggeredBy extracts the user behind a build from its causes. Jenkins
// nests causes under actions; some plugin payloads also put them at the top
// level. Falls back to parsing the "Started by user X" description.
func (b buildJSON) triggeredBy() string {
	causes := b.Causes
	for _, a := range b.Actions {
		causes = append(causes, a.Causes...)
	}

	for _, cause := range causes {
		if cause.UserID != "" {
			return cause.UserID
		}
		if cause.UserName != "" {
			return cause.UserName
		}
		if user := strings.TrimSpace(strings.TrimPrefix(cause.ShortDescription, "Started by user")); user != cause.ShortDescription && user != "" {
			return user
		}
	}

	return ""
}
