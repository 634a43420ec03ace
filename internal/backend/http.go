package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/imroc/req/v3"

	"github.com/jubeeworld/synckit/internal/store"
)

const (
	defaultTimeout = 15 * time.Second

	pushPathFmt = "/api/v1/sync/%s/push"
	pullPathFmt = "/api/v1/sync/%s"
)

// wireRecord is the push/pull payload shape. The synced flag is local
// bookkeeping and never crosses the wire.
type wireRecord struct {
	ID         string               `json:"id"`
	OwnerID    string               `json:"ownerId,omitempty"`
	UpdatedAt  time.Time            `json:"updatedAt"`
	Fields     map[string]any       `json:"fields"`
	FieldTimes map[string]time.Time `json:"fieldTimes,omitempty"`
}

type pushRequest struct {
	Records []wireRecord `json:"records"`
}

type pullResponse struct {
	Records []wireRecord `json:"records"`
}

// HTTPClient implements Client against the sync HTTP API.
type HTTPClient struct {
	client *req.Client
}

// HTTPOption configures the HTTP client.
type HTTPOption func(*req.Client)

// WithTimeout bounds each network call. A timeout is treated as transient by
// the caller; the issued request is never cancelled mid-flight server-side,
// which the idempotent push tolerates.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *req.Client) {
		c.SetTimeout(d)
	}
}

// WithAuthToken attaches a bearer token to every request.
func WithAuthToken(token string) HTTPOption {
	return func(c *req.Client) {
		c.SetCommonBearerAuthToken(token)
	}
}

// NewHTTPClient builds a client for the given server base URL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetUserAgent("synckit")
	for _, opt := range opts {
		opt(client)
	}
	return &HTTPClient{client: client}
}

// Push upserts records by id. The server treats repeated delivery of the same
// record as a no-op.
func (c *HTTPClient) Push(ctx context.Context, collection string, records []*store.Record) error {
	body := pushRequest{Records: make([]wireRecord, 0, len(records))}
	for _, record := range records {
		body.Records = append(body.Records, toWire(record))
	}

	var apiErr APIError
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(&body).
		SetErrorResult(&apiErr).
		Post(fmt.Sprintf(pushPathFmt, collection))
	return c.checkResponse(res, err, "push "+collection, &apiErr)
}

// Pull fetches the remote state of one collection for one owner.
func (c *HTTPClient) Pull(ctx context.Context, collection string, query PullQuery) ([]*store.Record, error) {
	request := c.client.R().
		SetContext(ctx).
		SetQueryParam("owner", query.Owner)
	if !query.UpdatedSince.IsZero() {
		request.SetQueryParam("since", query.UpdatedSince.UTC().Format(time.RFC3339Nano))
	}

	var out pullResponse
	var apiErr APIError
	res, err := request.
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Get(fmt.Sprintf(pullPathFmt, collection))
	if err := c.checkResponse(res, err, "pull "+collection, &apiErr); err != nil {
		return nil, err
	}

	records := make([]*store.Record, 0, len(out.Records))
	for _, wire := range out.Records {
		records = append(records, fromWire(wire))
	}
	return records, nil
}

func (c *HTTPClient) checkResponse(res *req.Response, requestErr error, operation string, apiErr *APIError) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}
	if res.IsErrorState() {
		apiErr.Status = res.StatusCode
		if apiErr.Code == "" {
			apiErr.Code = "E_UNKNOWN"
		}
		return fmt.Errorf("%s: %w", operation, apiErr)
	}
	return nil
}

func toWire(record *store.Record) wireRecord {
	return wireRecord{
		ID:         record.ID,
		OwnerID:    record.Owner,
		UpdatedAt:  record.UpdatedAt,
		Fields:     record.Fields,
		FieldTimes: record.FieldTimes,
	}
}

func fromWire(wire wireRecord) *store.Record {
	return &store.Record{
		ID:         wire.ID,
		Owner:      wire.OwnerID,
		UpdatedAt:  wire.UpdatedAt,
		Fields:     wire.Fields,
		FieldTimes: wire.FieldTimes,
	}
}
