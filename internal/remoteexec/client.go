// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package remoteexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// Client is the synchronous HTTP RemoteExecutor used by the Incremental
// Executor (component G) to dispatch actions to a remote scheduler or
// worker. Interchangeable with Scheduler/Worker per spec §9's
// "RemoteExecutor trait object" note.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewClient builds a Client against baseURL (a scheduler or worker
// endpoint).
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	return &Client{baseURL: baseURL, http: rc}
}

func (c *Client) Execute(ctx context.Context, req ActionRequest) (ActionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ActionResult{}, err
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return ActionResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ActionResult{}, fmt.Errorf("remoteexec: dispatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		errBody, _ := io.ReadAll(resp.Body)
		return ActionResult{}, fmt.Errorf("remoteexec: dispatch failed (%s): %s", resp.Status, string(errBody))
	}

	var res ActionResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return ActionResult{}, fmt.Errorf("remoteexec: decode result: %w", err)
	}
	return res, nil
}
