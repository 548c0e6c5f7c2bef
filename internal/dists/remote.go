package dists

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// JSON-RPC envelope used by the distance service.
const (
	JSONRPCVersion      = "2.0"
	MethodQueryDistance = "distances/query"
)

// JSONRPCRequest is a JSON-RPC 2.0 request envelope.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response envelope.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// QueryParams are the params of distances/query.
type QueryParams struct {
	Refs    []string `json:"refs"`
	Queries []string `json:"queries"`
	Self    bool     `json:"self"`
}

// QueryResult is the result of distances/query. Data holds core and
// accessory interleaved in the layout's canonical order.
type QueryResult struct {
	Refs    []string  `json:"refs"`
	Queries []string  `json:"queries"`
	Self    bool      `json:"self"`
	Data    []float64 `json:"data"`
}

// RPCError represents a JSON-RPC error returned by the distance service.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("dists: %s: rpc error %d: %s (data: %s)", e.Method, e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("dists: %s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// RemoteSource fetches distances from an external distance service over
// HTTP/JSON-RPC. Calls go through a circuit breaker so a failing service
// is not hammered by repeated query batches.
type RemoteSource struct {
	endpoint  string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	requestID atomic.Int64
}

// RemoteOption configures a RemoteSource.
type RemoteOption func(*RemoteSource)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) RemoteOption {
	return func(s *RemoteSource) {
		s.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) RemoteOption {
	return func(s *RemoteSource) {
		s.http = hc
	}
}

// WithBreakerSettings replaces the default circuit breaker settings.
func WithBreakerSettings(st gobreaker.Settings) RemoteOption {
	return func(s *RemoteSource) {
		s.breaker = gobreaker.NewCircuitBreaker(st)
	}
}

// DefaultBreakerSettings trips after five consecutive failures and probes
// again after thirty seconds.
func DefaultBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("distance service circuit breaker changed state")
		},
	}
}

// NewRemoteSource creates a client for the distance service at endpoint.
func NewRemoteSource(endpoint string, opts ...RemoteOption) *RemoteSource {
	s := &RemoteSource{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 5 * time.Minute,
		},
		breaker: gobreaker.NewCircuitBreaker(DefaultBreakerSettings("distance-service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryDistances implements Source.
func (s *RemoteSource) QueryDistances(ctx context.Context, refs, queries []string, self bool) (*Table, error) {
	params := QueryParams{Refs: refs, Queries: queries, Self: self}
	out, err := s.breaker.Execute(func() (any, error) {
		var res QueryResult
		if err := s.call(ctx, MethodQueryDistance, params, &res); err != nil {
			return nil, err
		}
		return &res, nil
	})
	if err != nil {
		return nil, err
	}
	res := out.(*QueryResult)

	var m *Matrix
	if res.Self {
		m, err = NewSelf(len(res.Refs), res.Data)
		if err != nil {
			return nil, err
		}
		return &Table{Refs: res.Refs, Queries: res.Refs, Matrix: m}, nil
	}
	m, err = NewRect(len(res.Refs), len(res.Queries), res.Data)
	if err != nil {
		return nil, err
	}
	return &Table{Refs: res.Refs, Queries: res.Queries, Matrix: m}, nil
}

// nextID returns a monotonically increasing request ID for JSON-RPC calls.
func (s *RemoteSource) nextID() int64 {
	return s.requestID.Add(1)
}

// call performs a JSON-RPC 2.0 call over HTTP POST.
func (s *RemoteSource) call(ctx context.Context, method string, params any, result any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "dists: marshal params")
	}

	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      s.nextID(),
		Method:  method,
		Params:  paramsJSON,
	})
	if err != nil {
		return errors.Wrap(err, "dists: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "dists: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "dists: %s", method)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "dists: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("dists: %s: HTTP %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return errors.Wrap(err, "dists: decode response")
	}
	if rpcResp.Error != nil {
		return &RPCError{
			Method:  method,
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
			Data:    rpcResp.Error.Data,
		}
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return errors.Wrap(err, "dists: decode result")
		}
	}
	return nil
}
