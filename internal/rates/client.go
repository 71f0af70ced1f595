package rates

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBody bounds the rate response read into memory.
const maxBody = 32 << 20

// Fetcher returns the raw JSON document of the conversion-rate endpoint.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Client fetches conversion rates over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a Client for url with the given request timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch issues a GET to the endpoint and returns the response body.
// Transport errors and non-2xx responses are returned as errors; there is no retry.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	if c.url == "" {
		return nil, fmt.Errorf("Fetch: conversion rate URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("Fetch: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Fetch: GET %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("Fetch: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("Fetch: GET %s: unexpected status %d", c.url, resp.StatusCode)
	}

	return body, nil
}

var _ Fetcher = (*Client)(nil)
