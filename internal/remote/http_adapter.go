package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/syncerr"
)

// DefaultTimeout bounds every call to the authority.
const DefaultTimeout = 20 * time.Second

// maxBody caps how much of an authority response is read.
const maxBody = 64 << 20

// HTTPAdapter talks to the relational authority's REST API.
type HTTPAdapter struct {
	baseURL string
	token   string
	origin  string
	timeout time.Duration
	client  *http.Client
	log     zerolog.Logger
}

// HTTPOptions configures an HTTPAdapter.
type HTTPOptions struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// Origin identifies this desk in pushes so it can skip its own signals.
	Origin  string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPAdapter returns an adapter for the authority at opts.BaseURL.
func NewHTTPAdapter(opts HTTPOptions, log zerolog.Logger) *HTTPAdapter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &HTTPAdapter{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		origin:  opts.Origin,
		timeout: opts.Timeout,
		client:  opts.Client,
		log:     log.With().Str("component", "http_adapter").Logger(),
	}
}

func (a *HTTPAdapter) Name() string   { return "http" }
func (a *HTTPAdapter) Realtime() bool { return false }
func (a *HTTPAdapter) Close() error   { return nil }

// Subscribe is a no-op; HTTP desks poll.
func (a *HTTPAdapter) Subscribe(context.Context, model.Collection, func(model.Envelope)) (Unsubscribe, error) {
	return noopUnsubscribe, nil
}

// PullAll godoc
// GET /api/v1/sync
func (a *HTTPAdapter) PullAll(ctx context.Context) (map[model.Collection]model.Envelope, error) {
	var out model.PullResponse
	if err := a.do(ctx, http.MethodGet, "/api/v1/sync", nil, "", &out); err != nil {
		return nil, err
	}

	envs := make(map[model.Collection]model.Envelope, len(model.Collections))
	for _, c := range model.Collections {
		env, ok := out.Collections[c]
		if !ok {
			envs[c] = model.Envelope{Collection: c}
			continue
		}
		env.Collection = c
		if env.Exists && !json.Valid(env.Payload) {
			return nil, syncerr.New(syncerr.KindMalformedResponse, fmt.Sprintf("pull: %s payload is not JSON", c), nil)
		}
		envs[c] = env
	}
	return envs, nil
}

// PushCollection godoc
// POST /api/v1/sync/:collection
func (a *HTTPAdapter) PushCollection(ctx context.Context, env model.Envelope) error {
	body, err := json.Marshal(model.PushRequest{
		Payload:   env.Payload,
		UpdatedAt: env.UpdatedAt,
		Origin:    a.origin,
	})
	if err != nil {
		return syncerr.New(syncerr.KindMalformedResponse, "encode push", err)
	}
	var res model.PushResult
	if err := a.do(ctx, http.MethodPost, "/api/v1/sync/"+url.PathEscape(string(env.Collection)), bytes.NewReader(body), "application/json", &res); err != nil {
		return err
	}
	if !res.Success {
		return syncerr.New(syncerr.KindAuthorityRejected, "push "+string(env.Collection)+" not acknowledged", nil)
	}
	return nil
}

// PushKeyedValue godoc
// PUT /api/v1/sync/settings/:key
func (a *HTTPAdapter) PushKeyedValue(ctx context.Context, key string, value json.RawMessage, updatedAt int64) error {
	body, err := json.Marshal(model.SettingPushRequest{Value: value, UpdatedAt: updatedAt, Origin: a.origin})
	if err != nil {
		return syncerr.New(syncerr.KindMalformedResponse, "encode setting", err)
	}
	var res model.PushResult
	return a.do(ctx, http.MethodPut, "/api/v1/sync/settings/"+url.PathEscape(key), bytes.NewReader(body), "application/json", &res)
}

// UploadFile godoc
// POST /api/v1/files
func (a *HTTPAdapter) UploadFile(ctx context.Context, category, filename string, r io.Reader) (*model.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("category", category); err != nil {
		return nil, syncerr.New(syncerr.KindMalformedResponse, "encode upload", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, syncerr.New(syncerr.KindMalformedResponse, "encode upload", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, syncerr.New(syncerr.KindMalformedResponse, "read upload", err)
	}
	if err := mw.Close(); err != nil {
		return nil, syncerr.New(syncerr.KindMalformedResponse, "encode upload", err)
	}

	var res model.UploadResult
	if err := a.do(ctx, http.MethodPost, "/api/v1/files", &buf, mw.FormDataContentType(), &res); err != nil {
		return nil, err
	}
	if strings.HasPrefix(res.URL, "/") {
		res.URL = a.baseURL + res.URL
	}
	return &res, nil
}

type apiResponse struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func (a *HTTPAdapter) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	op := method + " " + path

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return syncerr.New(syncerr.KindNetworkUnavailable, op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if a.origin != "" {
		req.Header.Set(response.HeaderOrigin, a.origin)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return syncerr.FromTransport(op, err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		reader = brotli.NewReader(resp.Body)
	}
	raw, err := io.ReadAll(io.LimitReader(reader, maxBody))
	if err != nil {
		return syncerr.FromTransport(op, err)
	}

	var env apiResponse
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp.StatusCode, env.Error)
	}
	if decodeErr != nil {
		return syncerr.New(syncerr.KindMalformedResponse, op, decodeErr)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return syncerr.New(syncerr.KindMalformedResponse, op, err)
		}
	}
	return nil
}

// statusError maps a non-2xx status. Gateway failures and rate limiting mean
// the authority cannot be reached right now rather than that it refused the
// request.
func statusError(op string, status int, body *response.ErrorBody) error {
	msg := fmt.Sprintf("%s: HTTP %d", op, status)
	if body != nil {
		msg += ": " + string(body.Code) + " " + body.Message
	}
	switch status {
	case http.StatusTooManyRequests:
		return syncerr.New(syncerr.KindNetworkUnavailable, msg+" (rate limited)", nil)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return syncerr.New(syncerr.KindTimeout, msg, nil)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return syncerr.New(syncerr.KindNetworkUnavailable, msg, nil)
	}
	return syncerr.New(syncerr.KindAuthorityRejected, msg, nil)
}
