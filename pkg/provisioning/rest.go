package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/illmade-knight/go-job-scheduler/pkg/credentials"
	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 64 << 10

// RESTConfig configures a RESTAuthority.
type RESTConfig struct {
	Environment    credentials.Environment
	SubscriptionID string
	Tokens         credentials.TokenProvider
	// HTTPClient defaults to a pooled go-cleanhttp client.
	HTTPClient *http.Client
	// Timeout bounds each request when HTTPClient is not supplied.
	Timeout time.Duration
}

// RESTAuthority speaks the JSON wire contract to a remote scheduling
// authority. It attaches a bearer token to every request and classifies
// failures, but never retries.
type RESTAuthority struct {
	baseURL        string
	subscriptionID string
	tokens         credentials.TokenProvider
	httpClient     *http.Client
	logger         zerolog.Logger
}

// NewRESTAuthority creates an authority client for the given environment.
func NewRESTAuthority(cfg RESTConfig, logger zerolog.Logger) (*RESTAuthority, error) {
	if err := cfg.Environment.Validate(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if cfg.SubscriptionID == "" {
		return nil, &credentials.MissingConfigError{Key: credentials.KeySubscriptionID}
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token provider (TokenProvider interface) cannot be nil")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
		if cfg.Timeout > 0 {
			httpClient.Timeout = cfg.Timeout
		}
	}
	return &RESTAuthority{
		baseURL:        strings.TrimRight(cfg.Environment.ResourceEndpoint, "/"),
		subscriptionID: cfg.SubscriptionID,
		tokens:         cfg.Tokens,
		httpClient:     httpClient,
		logger: logger.With().
			Str("subcomponent", "RESTAuthority").
			Str("environment", cfg.Environment.Name).
			Logger(),
	}, nil
}

// PutCollection issues a create-or-update for a collection.
func (a *RESTAuthority) PutCollection(ctx context.Context, resourceGroup string, spec jobspec.JobCollectionSpec) (*CollectionRecord, error) {
	path := CollectionPath(a.subscriptionID, resourceGroup, spec.Name)
	var out CollectionResource
	status, err := a.do(ctx, http.MethodPut, path, NewCollectionResource(spec, nil), &out, false)
	if err != nil {
		return nil, err
	}
	return &CollectionRecord{Spec: out.Spec(), Metadata: out.SystemData.Metadata(status == http.StatusCreated)}, nil
}

// GetCollection reads a collection.
func (a *RESTAuthority) GetCollection(ctx context.Context, resourceGroup, name string) (*CollectionRecord, error) {
	path := CollectionPath(a.subscriptionID, resourceGroup, name)
	var out CollectionResource
	if _, err := a.do(ctx, http.MethodGet, path, nil, &out, false); err != nil {
		return nil, err
	}
	return &CollectionRecord{Spec: out.Spec(), Metadata: out.SystemData.Metadata(false)}, nil
}

// PutJob issues a create-or-update for a job.
func (a *RESTAuthority) PutJob(ctx context.Context, resourceGroup, collection string, spec jobspec.JobSpec) (*JobRecord, error) {
	path := JobPath(a.subscriptionID, resourceGroup, collection, spec.Name)
	var out JobResource
	status, err := a.do(ctx, http.MethodPut, path, NewJobResource(spec, nil), &out, true)
	if err != nil {
		return nil, err
	}
	return &JobRecord{Collection: collection, Spec: out.Spec(), Metadata: out.SystemData.Metadata(status == http.StatusCreated)}, nil
}

// GetJob reads a job.
func (a *RESTAuthority) GetJob(ctx context.Context, resourceGroup, collection, name string) (*JobRecord, error) {
	path := JobPath(a.subscriptionID, resourceGroup, collection, name)
	var out JobResource
	if _, err := a.do(ctx, http.MethodGet, path, nil, &out, false); err != nil {
		return nil, err
	}
	return &JobRecord{Collection: collection, Spec: out.Spec(), Metadata: out.SystemData.Metadata(false)}, nil
}

// Close releases idle connections.
func (a *RESTAuthority) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

// do performs one request. jobScoped marks job writes, where a bare 404 means
// the parent collection is missing.
func (a *RESTAuthority) do(ctx context.Context, method, path string, in, out interface{}, jobScoped bool) (int, error) {
	token, err := a.tokens.GetToken(ctx)
	if err != nil {
		return 0, fmt.Errorf("cannot call scheduling authority: %w", err)
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request for %s: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	a.logger.Debug().Str("method", method).Str("path", path).Msg("Calling scheduling authority")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, transientError(path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, transientError(path, fmt.Errorf("failed to decode response: %w", err))
		}
		return resp.StatusCode, nil
	}
	return resp.StatusCode, a.remoteError(resp, path, jobScoped)
}

func (a *RESTAuthority) remoteError(resp *http.Response, path string, jobScoped bool) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload ErrorResponse
	_ = json.Unmarshal(raw, &payload)

	kind := KindForCode(payload.Error.Code)
	if kind == nil {
		kind = classifyStatus(resp.StatusCode, jobScoped)
	}
	code := payload.Error.Code
	if code == "" {
		code = CodeForKind(kind)
	}
	msg := payload.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}
	a.logger.Debug().Int("status", resp.StatusCode).Str("code", code).Str("path", path).Msg("Scheduling authority rejected request")
	return &RemoteError{
		Kind:       kind,
		Code:       code,
		Message:    msg,
		StatusCode: resp.StatusCode,
		Resource:   path,
	}
}
