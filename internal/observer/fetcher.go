package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/faults"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
)

// Fetcher reads the current record of a session. It returns an error
// wrapping session.ErrNotFound while the session is not visible yet.
type Fetcher interface {
	Fetch(ctx context.Context, sessionID string) (*session.Record, error)
}

// StoreFetcher reads records directly from a session store.
type StoreFetcher struct {
	Store session.Store
}

// Fetch implements Fetcher.
func (f StoreFetcher) Fetch(ctx context.Context, sessionID string) (*session.Record, error) {
	return f.Store.Get(ctx, sessionID)
}

// HTTPFetcher reads records from the dealcoach API.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the API at baseURL. A nil client
// gets a 10 second timeout.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

const fetchOp = "fetch_session"

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, sessionID string) (*session.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/session/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, faults.Classify(fetchOp, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, faults.Classify(fetchOp, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", sessionID, session.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, faults.Upstream(fetchOp, resp.StatusCode, errors.New(strings.TrimSpace(string(body))))
	}

	var rec session.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, faults.New(faults.KindParseFailure, fetchOp, err)
	}
	return &rec, nil
}

var (
	_ Fetcher = StoreFetcher{}
	_ Fetcher = (*HTTPFetcher)(nil)
)
