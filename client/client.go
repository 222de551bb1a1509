package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gammadia/gpumux/api"
)

// apiClient talks to the JSON endpoints of a gpumux server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(address string, transport http.RoundTripper) *apiClient {
	return &apiClient{
		base: "http://" + address,
		http: &http.Client{Transport: transport},
	}
}

func (c *apiClient) Status(ctx context.Context) (*api.Status, error) {
	var status api.Status
	if err := c.do(ctx, http.MethodGet, "/status.json", nil, &status); err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return &status, nil
}

func (c *apiClient) UpdateQueue(ctx context.Context, pending string) error {
	if err := c.do(ctx, http.MethodPost, "/queue/update.json", api.UpdateQueueRequest{Pending: pending}, nil); err != nil {
		return fmt.Errorf("failed to update queue: %w", err)
	}
	return nil
}

func (c *apiClient) AppendQueue(ctx context.Context, commands []string) error {
	if err := c.do(ctx, http.MethodPost, "/queue/append.json", api.AppendQueueRequest{Commands: commands}, nil); err != nil {
		return fmt.Errorf("failed to append to queue: %w", err)
	}
	return nil
}

// JobLog returns the last tail lines of a job log, or all of it when tail is 0.
func (c *apiClient) JobLog(ctx context.Context, id int, tail int) ([]byte, error) {
	query := url.Values{}
	if tail > 0 {
		query.Set("tail", strconv.Itoa(tail))
	}
	target := fmt.Sprintf("%s/job/%d", c.base, id)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get log of job %d: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read log of job %d: %w", id, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get log of job %d: %w", id, responseError(resp.StatusCode, body))
	}
	return body, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return responseError(resp.StatusCode, data)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func responseError(code int, body []byte) error {
	var response api.Response
	if err := json.Unmarshal(body, &response); err == nil && response.Error != "" {
		return fmt.Errorf("server replied %d: %s", code, response.Error)
	}
	if len(body) == 0 {
		return errors.New(http.StatusText(code))
	}
	return fmt.Errorf("server replied %d: %s", code, bytes.TrimSpace(body))
}
