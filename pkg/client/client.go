// Package client is the Go SDK for the herbledger gateway HTTP API.
//
//	c := client.MustNew("http://localhost:5000")
//	rec, err := c.CreateCollection(ctx, client.Collection{
//	    ID: "CE1", Lat: 28.61, Lng: 77.20, Species: "Ashwagandha",
//	    CollectorID: "FARM1", Timestamp: time.Now().UTC().Format(time.RFC3339),
//	})
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the gateway responds 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrNotFound) true for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Collection is the payload for CreateCollection.
type Collection struct {
	ID          string  `json:"id"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Species     string  `json:"species"`
	CollectorID string  `json:"collectorId"`
	Timestamp   string  `json:"timestamp"`
}

// ProcessingStep is the payload for AddProcessingStep. Params is optional.
type ProcessingStep struct {
	ID        string         `json:"id"`
	BatchID   string         `json:"batchId"`
	StepType  string         `json:"stepType"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// QualityTest is the payload for AddQualityTest. Results is optional.
type QualityTest struct {
	ID        string         `json:"id"`
	BatchID   string         `json:"batchId"`
	TestType  string         `json:"testType"`
	Results   map[string]any `json:"results,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Package is the payload for PackageProduct.
type Package struct {
	PackageID string `json:"packageId"`
	BatchID   string `json:"batchId"`
	Timestamp string `json:"timestamp"`
}

// Record is a ledger record as returned by the gateway. Fields not present
// on a record's kind are left empty.
type Record struct {
	DocType     string          `json:"docType"`
	Org         string          `json:"org"`
	ID          string          `json:"id,omitempty"`
	PackageID   string          `json:"packageId,omitempty"`
	BatchID     string          `json:"batchId,omitempty"`
	Lat         string          `json:"lat,omitempty"`
	Lng         string          `json:"lng,omitempty"`
	Species     string          `json:"species,omitempty"`
	CollectorID string          `json:"collectorId,omitempty"`
	StepType    string          `json:"stepType,omitempty"`
	TestType    string          `json:"testType,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	Results     json.RawMessage `json:"results,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

// PackageResult is the response to PackageProduct.
type PackageResult struct {
	Result  Record `json:"result"`
	QR      string `json:"qr"`      // data:image/png;base64 URL
	ScanURL string `json:"scanUrl"` // consumer-facing provenance page
}

// ProvenanceEntry is one version of a key. Record holds either a record
// object or, for versions that could not be decoded, a JSON string.
type ProvenanceEntry struct {
	TxID      string          `json:"txId"`
	Timestamp time.Time       `json:"timestamp"`
	Record    json.RawMessage `json:"record"`
}

// Decode parses the entry's record. It fails for raw (undecodable) versions.
func (e ProvenanceEntry) Decode() (*Record, error) {
	var r Record
	if err := json.Unmarshal(e.Record, &r); err != nil {
		return nil, fmt.Errorf("decode provenance record: %w", err)
	}
	return &r, nil
}

// Client talks to a herbledger gateway.
type Client struct {
	base       string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed gateway.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 30 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the gateway at base (e.g. "http://localhost:5000").
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, errors.New("gateway base URL is required")
	}
	c := &Client{
		base: strings.TrimRight(base, "/"),
		// Submissions block until commit, so allow more than a typical API call.
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// CreateCollection records a harvest.
func (c *Client) CreateCollection(ctx context.Context, in Collection) (*Record, error) {
	var out Record
	if err := c.post(ctx, "/collection", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddProcessingStep records a processing step against an owned batch.
func (c *Client) AddProcessingStep(ctx context.Context, in ProcessingStep) (*Record, error) {
	var out Record
	if err := c.post(ctx, "/process", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddQualityTest records a quality test against an owned batch.
func (c *Client) AddQualityTest(ctx context.Context, in QualityTest) (*Record, error) {
	var out Record
	if err := c.post(ctx, "/quality", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PackageProduct packages an owned batch and returns its scan URL and QR code.
func (c *Client) PackageProduct(ctx context.Context, in Package) (*PackageResult, error) {
	var out PackageResult
	if err := c.post(ctx, "/package", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Provenance returns the visible history of id, oldest first.
func (c *Client) Provenance(ctx context.Context, id string) ([]ProvenanceEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/provenance/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var out []ProvenanceEntry
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode provenance: %w", err)
	}
	return out, nil
}

// Label downloads the stored QR label PNG for a package.
func (c *Client) Label(ctx context.Context, packageID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/labels/"+url.PathEscape(packageID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}
