// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// httpExchange posts one outbound protocol message to url and returns
// the raw response body. This is the CLI's transport: spec.md's
// Non-goals exclude a transport implementation from the CORE, but one
// concrete choice has to drive the suspend/resume convention
// (internal/protocol's handlerFunc leaves state unchanged to signal
// "pump the transport and call Process again").
func httpExchange(client *http.Client, url string, body []byte) ([]byte, error) {
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: post %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: %s: unexpected status %d: %s", url, resp.StatusCode, data)
	}
	return data, nil
}
