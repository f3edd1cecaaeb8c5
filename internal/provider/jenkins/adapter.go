// Package jenkins implements domain.CIServer against the Jenkins REST API.
package jenkins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/waabox/bgrelease/internal/domain"
)

// Action classes Jenkins reports on a build waiting in an input step.
var inputActionClasses = map[string]bool{
	"org.jenkinsci.plugins.workflow.support.steps.input.InputAction":     true,
	"org.jenkinsci.plugins.workflow.support.steps.input.InputStepAction": true,
}

var queueLocation = regexp.MustCompile(`/queue/item/(\d+)/?$`)

// Adapter implements domain.CIServer for Jenkins.
type Adapter struct {
	baseURL string
	client  *http.Client

	mu       sync.RWMutex
	user     string
	password string
	crumb    *crumb
}

type crumb struct {
	field string
	value string
}

// Ensure Adapter fully implements domain.CIServer.
var _ domain.CIServer = (*Adapter)(nil)

// NewAdapter creates a Jenkins adapter for the server at baseURL.
func NewAdapter(baseURL, user, password string) *Adapter {
	jar, _ := cookiejar.New(nil)
	return &Adapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		// The crumb is bound to the session cookie.
		client: &http.Client{Timeout: 15 * time.Second, Jar: jar},
	}
}

// BaseURL returns the server root the adapter talks to.
func (a *Adapter) BaseURL() string {
	return a.baseURL
}

// SetPassword replaces the password or API token and drops the cached crumb.
func (a *Adapter) SetPassword(password string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.password = password
	a.crumb = nil
}

// Ping returns the Jenkins version from the X-Jenkins header.
func (a *Adapter) Ping(ctx context.Context) (string, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/json", nil, "")
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	version := resp.Header.Get("X-Jenkins")
	if version == "" {
		return "", fmt.Errorf("%s does not look like a Jenkins server (no X-Jenkins header)", a.baseURL)
	}
	return version, nil
}

// EnsureJob creates the job, or replaces its configuration when it already exists.
func (a *Adapter) EnsureJob(ctx context.Context, name string, definition string) (domain.JobHandle, error) {
	handle := domain.JobHandle{Name: name, URL: a.baseURL + jobPath(name) + "/"}

	err := a.getJSON(ctx, jobPath(name)+"/api/json?tree=name", &struct{}{})
	switch {
	case err == nil:
		if err := a.post(ctx, jobPath(name)+"/config.xml", []byte(definition), "application/xml"); err != nil {
			return domain.JobHandle{}, fmt.Errorf("reconfiguring job %s: %w", name, err)
		}
	case errors.Is(err, domain.ErrNotFound):
		parent, leaf := splitJob(name)
		path := parent + "/createItem?name=" + url.QueryEscape(leaf)
		if err := a.post(ctx, path, []byte(definition), "application/xml"); err != nil {
			return domain.JobHandle{}, fmt.Errorf("creating job %s: %w", name, err)
		}
	default:
		return domain.JobHandle{}, fmt.Errorf("checking job %s: %w", name, err)
	}
	return handle, nil
}

// Trigger queues a build and returns the queue item id from the Location header.
func (a *Adapter) Trigger(ctx context.Context, job domain.JobHandle) (domain.QueueTicket, error) {
	resp, err := a.doWithCrumb(ctx, http.MethodPost, jobPath(job.Name)+"/build", nil, "")
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	m := queueLocation.FindStringSubmatch(resp.Header.Get("Location"))
	if m == nil {
		return "", fmt.Errorf("jenkins did not return a queue item for %s (Location %q)", job.Name, resp.Header.Get("Location"))
	}
	return domain.QueueTicket(m[1]), nil
}

// ResolveTicket reports the build number a queue item turned into. Jenkins forgets
// queue items a few minutes after they leave the queue; that is domain.ErrNotFound.
func (a *Adapter) ResolveTicket(ctx context.Context, ticket domain.QueueTicket) (domain.BuildID, bool, error) {
	var item jenkinsQueueItem
	if err := a.getJSON(ctx, "/queue/item/"+url.PathEscape(string(ticket))+"/api/json", &item); err != nil {
		return "", false, err
	}
	if item.Cancelled {
		return "", false, fmt.Errorf("queue item %s was cancelled", ticket)
	}
	if item.Executable == nil {
		return "", false, nil
	}
	return domain.BuildID(strconv.Itoa(item.Executable.Number)), true, nil
}

// LatestBuild returns the number of the most recent build of job.
func (a *Adapter) LatestBuild(ctx context.Context, job domain.JobHandle) (domain.BuildID, bool, error) {
	var info jenkinsJob
	if err := a.getJSON(ctx, jobPath(job.Name)+"/api/json?tree=lastBuild[number]", &info); err != nil {
		return "", false, err
	}
	if info.LastBuild == nil {
		return "", false, nil
	}
	return domain.BuildID(strconv.Itoa(info.LastBuild.Number)), true, nil
}

// GetBuildStatus returns the current state of a build, including a pending input.
func (a *Adapter) GetBuildStatus(ctx context.Context, job domain.JobHandle, id domain.BuildID) (domain.BuildRecord, error) {
	var b jenkinsBuild
	if err := a.getJSON(ctx, jobPath(job.Name)+"/"+url.PathEscape(string(id))+"/api/json", &b); err != nil {
		return domain.BuildRecord{}, err
	}
	rec := b.toRecord(job.Name)
	rec.ID = id

	if rec.Status == domain.BuildRunning && b.waitsForInput() {
		var pending []jenkinsPendingInput
		if err := a.getJSON(ctx, jobPath(job.Name)+"/"+url.PathEscape(string(id))+"/wfapi/pendingInputActions", &pending); err != nil {
			return domain.BuildRecord{}, err
		}
		if len(pending) > 0 {
			rec.Status = domain.BuildPausedForInput
			rec.InputID = pending[0].ID
		}
	}
	return rec, nil
}

// ResolveInputGate submits the input step without parameters, or aborts it.
func (a *Adapter) ResolveInputGate(ctx context.Context, job domain.JobHandle, id domain.BuildID, inputID string, decision domain.Decision) error {
	action := "proceedEmpty"
	if decision == domain.Abort {
		action = "abort"
	}
	path := fmt.Sprintf("%s/%s/input/%s/%s", jobPath(job.Name), url.PathEscape(string(id)), url.PathEscape(inputID), action)
	return a.post(ctx, path, nil, "")
}

func (a *Adapter) getJSON(ctx context.Context, path string, target interface{}) error {
	resp, err := a.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// post sends a mutating request and discards the response body.
func (a *Adapter) post(ctx context.Context, path string, body []byte, contentType string) error {
	resp, err := a.doWithCrumb(ctx, http.MethodPost, path, body, contentType)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// doWithCrumb adds the CSRF crumb, fetching it once per session. A 403 is retried with
// a fresh crumb, since Jenkins invalidates crumbs when the session changes.
func (a *Adapter) doWithCrumb(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		c, err := a.sessionCrumb(ctx)
		if err != nil {
			return nil, err
		}
		req, err := a.newRequest(ctx, method, path, body, contentType)
		if err != nil {
			return nil, err
		}
		if c != nil {
			req.Header.Set(c.field, c.value)
		}
		resp, err := a.send(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusForbidden && c != nil && attempt == 0 {
			resp.Body.Close()
			a.mu.Lock()
			a.crumb = nil
			a.mu.Unlock()
			continue
		}
		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// sessionCrumb returns nil when CSRF protection is disabled.
func (a *Adapter) sessionCrumb(ctx context.Context) (*crumb, error) {
	a.mu.RLock()
	c := a.crumb
	a.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	var issued struct {
		Crumb             string `json:"crumb"`
		CrumbRequestField string `json:"crumbRequestField"`
	}
	err := a.getJSON(ctx, "/crumbIssuer/api/json", &issued)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching crumb: %w", err)
	}
	c = &crumb{field: issued.CrumbRequestField, value: issued.Crumb}
	a.mu.Lock()
	a.crumb = c
	a.mu.Unlock()
	return c, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	req, err := a.newRequest(ctx, method, path, body, contentType)
	if err != nil {
		return nil, err
	}
	resp, err := a.send(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (a *Adapter) newRequest(ctx context.Context, method, path string, body []byte, contentType string) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	a.mu.RLock()
	req.SetBasicAuth(a.user, a.password)
	a.mu.RUnlock()
	return req, nil
}

// send executes req. Transport failures mean the server is not reachable yet.
func (a *Adapter) send(req *http.Request) (*http.Response, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, fmt.Errorf("executing request: %v: %w", err, domain.ErrUnavailable)
	}
	return resp, nil
}

// checkStatus closes the body of failed responses.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	defer resp.Body.Close()
	path := resp.Request.URL.Path
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("jenkins API error: %s %s: %w", path, resp.Status, domain.ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("jenkins API error: %s %s: %w", path, resp.Status, domain.ErrNotFound)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("jenkins API error: %s %s: %w", path, resp.Status, domain.ErrUnavailable)
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if msg := strings.TrimSpace(string(snippet)); msg != "" && !strings.HasPrefix(msg, "<") {
		return fmt.Errorf("jenkins API error: %s %s: %s", path, resp.Status, msg)
	}
	return fmt.Errorf("jenkins API error: %s %s", path, resp.Status)
}

// jobPath maps "folder/job" to "/job/folder/job/job".
func jobPath(name string) string {
	var b strings.Builder
	for _, part := range strings.Split(strings.Trim(name, "/"), "/") {
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(part))
	}
	return b.String()
}

func splitJob(name string) (parentPath, leaf string) {
	name = strings.Trim(name, "/")
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return "", name
	}
	return jobPath(name[:i]), name[i+1:]
}

type jenkinsQueueItem struct {
	Cancelled  bool   `json:"cancelled"`
	Why        string `json:"why"`
	Executable *struct {
		Number int `json:"number"`
	} `json:"executable"`
}

type jenkinsJob struct {
	LastBuild *struct {
		Number int `json:"number"`
	} `json:"lastBuild"`
}

type jenkinsAction struct {
	Class string `json:"_class"`
}

type jenkinsBuild struct {
	Number    int             `json:"number"`
	Building  bool            `json:"building"`
	Result    *string         `json:"result"`
	Timestamp int64           `json:"timestamp"`
	Actions   []jenkinsAction `json:"actions"`
}

type jenkinsPendingInput struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (b jenkinsBuild) waitsForInput() bool {
	for _, a := range b.Actions {
		if inputActionClasses[a.Class] {
			return true
		}
	}
	return false
}

func (b jenkinsBuild) toRecord(job string) domain.BuildRecord {
	rec := domain.BuildRecord{Job: job, Status: mapJenkinsStatus(b.Building, b.Result)}
	if b.Result != nil {
		rec.Result = *b.Result
	}
	if b.Timestamp > 0 {
		rec.StartedAt = time.UnixMilli(b.Timestamp).UTC()
	}
	return rec
}

func mapJenkinsStatus(building bool, result *string) domain.BuildStatus {
	if building || result == nil {
		return domain.BuildRunning
	}
	switch *result {
	case "SUCCESS":
		return domain.BuildSucceeded
	default:
		// FAILURE, UNSTABLE, ABORTED, NOT_BUILT
		return domain.BuildFailed
	}
}
