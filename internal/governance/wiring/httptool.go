/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package wiring

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/juanpasaflipz/legator-governance/internal/governance/gateway"
)

const httpToolMaxResponseBytes = 8 * 1024

// HTTPGetTool is the web_search Tool Gateway adapter: a guardrailed HTTP
// GET, generalized from infrastructure inspection to agent-callable
// retrieval.
type HTTPGetTool struct {
	client      *http.Client
	allowedHost string // empty means no host restriction
}

// NewHTTPGetTool builds the adapter. allowedHost, if non-empty, restricts
// every call to that host, matching the way ssh_tool.go and kubectl_tool.go
// pin a single target rather than accepting an arbitrary endpoint per call.
func NewHTTPGetTool(allowedHost string) *HTTPGetTool {
	return &HTTPGetTool{
		client:      &http.Client{Timeout: 10 * time.Second},
		allowedHost: allowedHost,
	}
}

// Schema returns the gateway.ToolSchema entry for registration.
func (t *HTTPGetTool) Schema() gateway.ToolSchema {
	return gateway.ToolSchema{Name: "web_search"}
}

// Execute performs a GET against args["url"], or just the allowed host if
// url is omitted. args["query"] is not sent with the request; it is
// echoed back in the result.
func (t *HTTPGetTool) Execute(ctx context.Context, _ int64, args map[string]any) (map[string]any, error) {
	url, _ := args["url"].(string)
	query, _ := args["query"].(string)
	if url == "" {
		if t.allowedHost == "" {
			return nil, fmt.Errorf("url is required")
		}
		url = t.allowedHost
	}
	if t.allowedHost != "" && !strings.HasPrefix(url, t.allowedHost) {
		return nil, fmt.Errorf("url %q is outside the allowed host %q", url, t.allowedHost)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpToolMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	text := string(body)
	if len(body) >= httpToolMaxResponseBytes {
		text = text[:httpToolMaxResponseBytes-100] + "\n... [truncated at 8KB]"
	}

	return map[string]any{
		"query":       query,
		"status_code": resp.StatusCode,
		"body":        text,
	}, nil
}
