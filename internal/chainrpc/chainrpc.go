/*
Copyright 2024 Coinvoice Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package chainrpc probes blockchain JSON-RPC upstreams. Each configured
// chain carries its own sticky failover group, so a dead primary endpoint
// stops being retried first on every call.
package chainrpc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coinvoice/coinvoice/config"
	"github.com/coinvoice/coinvoice/internal/apierror"
	"github.com/coinvoice/coinvoice/internal/failover"
	"github.com/coinvoice/coinvoice/internal/request"
)

type rpcRequest struct {
	JsonRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	chains map[string]*failover.Endpoints
	client *http.Client
}

// NewClient builds one failover group per configured chain.
func NewClient(chains map[string]config.ChainConfig) *Client {
	groups := make(map[string]*failover.Endpoints, len(chains))
	for name, chain := range chains {
		groups[name] = failover.New(name, chain.RpcUrls)
	}
	return &Client{chains: groups, client: http.DefaultClient}
}

// Chains returns the names of every configured chain.
func (c *Client) Chains() []string {
	names := make([]string, 0, len(c.chains))
	for name := range c.chains {
		names = append(names, name)
	}
	return names
}

// BlockNumber fetches the latest block number from the chain's upstreams,
// failing over between endpoints. The returned value is the raw hex string.
func (c *Client) BlockNumber(ctx context.Context, chain string) (string, error) {
	group, ok := c.chains[chain]
	if !ok {
		return "", apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Unsupported chain '%s'", chain), nil)
	}

	var blockNumber string
	err := group.Execute(ctx, func(ctx context.Context, url string) error {
		payload, err := request.ToJsonReq(&rpcRequest{
			JsonRPC: "2.0",
			Method:  "eth_blockNumber",
			Params:  []interface{}{},
			ID:      1,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
		if err != nil {
			return err
		}

		var response rpcResponse
		resp, err := request.CallWithClient(c.client, req, &response)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("rpc endpoint returned status %d", resp.StatusCode)
		}
		if response.Error != nil {
			return fmt.Errorf("rpc error %d: %s", response.Error.Code, response.Error.Message)
		}

		blockNumber = response.Result
		return nil
	})
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrExternalService, fmt.Sprintf("All RPC endpoints failed for chain '%s'", chain), err)
	}
	return blockNumber, nil
}

// Probe checks that at least one endpoint of the chain answers.
func (c *Client) Probe(ctx context.Context, chain string) error {
	_, err := c.BlockNumber(ctx, chain)
	return err
}
