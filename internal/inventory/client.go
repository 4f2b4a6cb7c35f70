// Package inventory implements the InventoryClient collaborator of spec
// §4.1/§6: a thin request layer over Inventory's HTTP/JSON wire protocol.
//
// This is grounded on the teacher's pkg/console/client.go (also a thin
// per-remote-service HTTP client built around a generated-client-style
// request editor for auth and per-status-code error classification), adapted
// from "report agent status to console.redhat.com" to "diff and converge
// this node's VM set against Inventory".
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/joyent/vm-agent/internal/config"
	"github.com/joyent/vm-agent/internal/models"
	agenterrors "github.com/joyent/vm-agent/pkg/errors"
)

// Client is the concrete InventoryClient of spec §4.1.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	nodeID     string
	secret     string
}

// NewClient builds an InventoryClient from Config. agentVersion is embedded
// in the User-Agent header alongside the node id (spec §6).
func NewClient(invCfg config.Inventory, agentVersion, nodeID string) (*Client, error) {
	if invCfg.BaseURL == "" {
		return nil, fmt.Errorf("inventory: base URL is required")
	}
	return &Client{
		baseURL:    invCfg.BaseURL,
		httpClient: &http.Client{Timeout: invCfg.RequestTimeout},
		userAgent:  buildUserAgent(agentVersion, nodeID),
		nodeID:     nodeID,
		secret:     invCfg.BearerSecret,
	}, nil
}

// ListForNode returns the VMs Inventory believes are active on nodeID
// (spec §4.1 "listForNode").
func (c *Client) ListForNode(ctx context.Context, nodeID string) ([]models.VmRecord, error) {
	q, err := c.listQuery(nodeID)
	if err != nil {
		return nil, agenterrors.NewProtocolError("listForNode", err)
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/vms?"+q, nil)
	if err != nil {
		return nil, agenterrors.NewNetworkError("listForNode", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, agenterrors.NewNetworkError("listForNode", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, agenterrors.NewServerError("listForNode", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, agenterrors.NewProtocolError("listForNode", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var vms []models.VmRecord
	if err := json.NewDecoder(resp.Body).Decode(&vms); err != nil {
		return nil, agenterrors.NewProtocolError("listForNode", err)
	}
	return vms, nil
}

// BulkUpdateForNode replaces/updates the set-for-node atomically per call
// (spec §4.1 "bulkUpdateForNode"). Used only during initial reconciliation.
func (c *Client) BulkUpdateForNode(ctx context.Context, nodeID string, vms map[uuid.UUID]models.VmRecord) error {
	q, err := c.listQuery(nodeID)
	if err != nil {
		return agenterrors.NewProtocolError("bulkUpdateForNode", err)
	}

	body := struct {
		Vms map[uuid.UUID]models.VmRecord `json:"vms"`
	}{Vms: vms}

	payload, err := json.Marshal(body)
	if err != nil {
		return agenterrors.NewProtocolError("bulkUpdateForNode", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/vms?"+q, bytes.NewReader(payload))
	if err != nil {
		return agenterrors.NewNetworkError("bulkUpdateForNode", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return agenterrors.NewNetworkError("bulkUpdateForNode", err)
	}
	defer resp.Body.Close()

	return classifyWriteResponse("bulkUpdateForNode", resp)
}

// UpdateOne updates a single VM keyed by its uuid (spec §4.1 "updateOne").
func (c *Client) UpdateOne(ctx context.Context, vm models.VmRecord) error {
	payload, err := json.Marshal(vm)
	if err != nil {
		return agenterrors.NewProtocolError("updateOne", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/vms/"+vm.UUID.String(), bytes.NewReader(payload))
	if err != nil {
		return agenterrors.NewNetworkError("updateOne", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return agenterrors.NewNetworkError("updateOne", err)
	}
	defer resp.Body.Close()

	return classifyWriteResponse("updateOne", resp)
}

func classifyWriteResponse(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return agenterrors.NewServerError(op, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(resp.Body)
		return agenterrors.NewValidationError(op, resp.StatusCode, string(body))
	default:
		return agenterrors.NewProtocolError(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

// listQuery encodes server_uuid and state the way a generated oapi-codegen
// client would: through runtime.StyleParamWithLocation rather than hand-built
// string concatenation, so param styles stay consistent if more are added.
func (c *Client) listQuery(nodeID string) (string, error) {
	q := url.Values{}

	uuidParam, err := runtime.StyleParamWithLocation("form", true, "server_uuid", runtime.ParamLocationQuery, nodeID)
	if err != nil {
		return "", err
	}
	stateParam, err := runtime.StyleParamWithLocation("form", true, "state", runtime.ParamLocationQuery, "active")
	if err != nil {
		return "", err
	}

	uv, err := url.ParseQuery(uuidParam)
	if err != nil {
		return "", err
	}
	sv, err := url.ParseQuery(stateParam)
	if err != nil {
		return "", err
	}
	for k, vals := range uv {
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	for k, vals := range sv {
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	return q.Encode(), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, err := c.bearerToken(); err != nil {
		zap.S().Named("inventory_client").Warnw("failed to sign bearer token, sending request unauthenticated", "error", err)
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// bearerToken signs a short-lived token embedding this node's identity, per
// the ambient auth concern described in SPEC_FULL.md §6.1. Returns "" with a
// nil error when no secret is configured (Inventory's wire protocol doesn't
// require auth, spec §6).
func (c *Client) bearerToken() (string, error) {
	if c.secret == "" {
		return "", nil
	}
	claims := jwt.MapClaims{
		"sub": c.nodeID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.secret))
}
