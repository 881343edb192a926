// Package remote is the HTTP client for the generation service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/infra"
)

// TokenSource yields the bearer token to attach, or "" for anonymous calls.
// It is consulted when each request is built.
type TokenSource interface {
	Token() string
}

// Options configures the generation service client.
type Options struct {
	BaseURL        string
	Tokens         TokenSource
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	Locale         string
}

// Client performs HTTP calls against the generation service API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *infra.Logger
	locale     string
}

// FilePart is one binary upload in a job submission.
type FilePart struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// SubmitRequest captures the inputs of one job-creation call.
type SubmitRequest struct {
	Modality domain.Modality
	Prompt   string
	Provider string
	Files    []FilePart
}

// Challenge is a login artifact the user resolves out-of-band by scanning it.
type Challenge struct {
	QRCodeURL string
	State     string
	IssuedAt  time.Time
}

// LoginResult is returned once a challenge has been resolved.
type LoginResult struct {
	Token domain.Credential
	User  *domain.User
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080/api"
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     opts.Tokens,
		httpClient: httpClient,
		logger:     logger,
		locale:     strings.TrimSpace(opts.Locale),
	}
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitJob sends one multipart job-creation request and returns the job id.
func (c *Client) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	if !req.Modality.Valid() {
		return "", fmt.Errorf("remote: submit: %w: unknown modality %q", domain.ErrValidation, req.Modality)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("remote: submit: %w: prompt is required", domain.ErrValidation)
	}
	for _, f := range req.Files {
		if f.Field == "" || len(f.Data) == 0 {
			return "", fmt.Errorf("remote: submit: %w: empty file part %q", domain.ErrValidation, f.Name)
		}
	}

	body, contentType, err := encodeSubmission(req)
	if err != nil {
		return "", fmt.Errorf("remote: submit: encode form: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/task/create", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", contentType)

	var out submitResponse
	if err := c.do(httpReq, "submit", &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", &ApplicationError{Op: "submit", Message: "response did not include a task id"}
	}
	c.logger.Debug().
		Str("modality", string(req.Modality)).
		Str("job_id", string(out.TaskID)).
		Int("files", len(req.Files)).
		Msg("remote: job submitted")
	return string(out.TaskID), nil
}

// GetJob fetches the current state of a job.
func (c *Client) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("remote: get job: %w: id is required", domain.ErrValidation)
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/task/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out jobResponse
	if err := c.do(httpReq, "get job", &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, &ApplicationError{Op: "get job", Message: "Task not found"}
	}
	job := out.Data.toDomain()
	return &job, nil
}

// ListJobs returns the history of the current user, optionally filtered by modality.
func (c *Client) ListJobs(ctx context.Context, modality domain.Modality) ([]domain.Job, error) {
	path := "/task/list"
	if modality != "" {
		path += "?type=" + url.QueryEscape(string(modality))
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out jobListResponse
	if err := c.do(httpReq, "list jobs", &out); err != nil {
		return nil, err
	}
	jobs := make([]domain.Job, 0, len(out.Data))
	for _, d := range out.Data {
		jobs = append(jobs, d.toDomain())
	}
	return jobs, nil
}

// LoginChallenge requests a new QR login artifact.
func (c *Client) LoginChallenge(ctx context.Context) (*Challenge, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/auth/wechat/qr-code", nil)
	if err != nil {
		return nil, err
	}
	var out challengeResponse
	if err := c.do(httpReq, "login challenge", &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.QRCodeURL) == "" {
		return nil, &ApplicationError{Op: "login challenge", Message: "response did not include a QR code"}
	}
	state := out.State
	if state == "" {
		state = stateFromURL(out.QRCodeURL)
	}
	return &Challenge{QRCodeURL: out.QRCodeURL, State: state, IssuedAt: time.Now()}, nil
}

// ProbeLogin checks whether the challenge has been resolved. It returns
// ErrLoginPending until the server hands out a token.
func (c *Client) ProbeLogin(ctx context.Context, challenge *Challenge) (*LoginResult, error) {
	path := "/auth/wechat/status"
	if challenge != nil && challenge.State != "" {
		path += "?state=" + url.QueryEscape(challenge.State)
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out loginResponse
	err = c.do(httpReq, "probe login", &out)
	if err != nil {
		var ae *ApplicationError
		if errors.Is(err, domain.ErrUnauthorized) || errors.As(err, &ae) {
			return nil, ErrLoginPending
		}
		return nil, err
	}
	if strings.TrimSpace(out.Token) == "" {
		return nil, ErrLoginPending
	}
	result := &LoginResult{Token: domain.Credential(out.Token)}
	if out.User != nil {
		u := out.User.toDomain()
		result.User = &u
	}
	return result, nil
}

// CurrentUser returns the profile bound to the current credential.
func (c *Client) CurrentUser(ctx context.Context) (*domain.User, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/auth/user/info", nil)
	if err != nil {
		return nil, err
	}
	var out userResponse
	if err := c.do(httpReq, "current user", &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, &ApplicationError{Op: "current user", Message: "Unauthorized"}
	}
	u := out.User.toDomain()
	return &u, nil
}

// ListTemplates returns the prompt presets offered for a modality.
func (c *Client) ListTemplates(ctx context.Context, modality domain.Modality) ([]domain.Template, error) {
	kind := modality.TemplateType()
	if kind == 0 {
		return nil, fmt.Errorf("remote: list templates: %w: unknown modality %q", domain.ErrValidation, modality)
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/template/list/type/"+strconv.Itoa(kind), nil)
	if err != nil {
		return nil, err
	}
	var out templateListResponse
	if err := c.do(httpReq, "list templates", &out); err != nil {
		return nil, err
	}
	templates := make([]domain.Template, 0, len(out.Data))
	for _, d := range out.Data {
		templates = append(templates, d.toDomain())
	}
	return templates, nil
}

// Download fetches a result reference. Relative references are resolved
// against the API host.
func (c *Client) Download(ctx context.Context, ref string) ([]byte, string, error) {
	target, err := c.resolveRef(ref)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("remote: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &TransportError{Op: "download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", &StatusError{Op: "download", StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &TransportError{Op: "download", Err: err}
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = http.DetectContentType(data)
	}
	return data, format, nil
}

func (c *Client) resolveRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	parsed, err := url.Parse(ref)
	if err != nil || ref == "" {
		return "", fmt.Errorf("remote: %w: invalid result reference %q", domain.ErrValidation, ref)
	}
	if parsed.IsAbs() {
		return parsed.String(), nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("remote: invalid base url: %w", err)
	}
	return base.ResolveReference(&url.URL{Path: parsed.Path, RawQuery: parsed.RawQuery}).String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.locale != "" {
		req.Header.Set("Accept-Language", c.locale)
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// do sends req, maps failures onto the error taxonomy and decodes the
// success payload into out.
func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Debug().
		Str("op", op).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("remote: call")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= 300 {
		msg := env.Message
		if decodeErr != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return &ApplicationError{Op: op, Message: "invalid response: " + decodeErr.Error()}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request rejected"
		}
		return &ApplicationError{Op: op, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ApplicationError{Op: op, Message: "invalid response: " + err.Error()}
	}
	return nil
}

func encodeSubmission(req SubmitRequest) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if err := mw.WriteField("type", string(req.Modality)); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("prompt", req.Prompt); err != nil {
		return nil, "", err
	}
	if p := strings.TrimSpace(req.Provider); p != "" {
		if err := mw.WriteField("provider", p); err != nil {
			return nil, "", err
		}
	}
	for _, f := range req.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Name))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := w.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func stateFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("state")
}
