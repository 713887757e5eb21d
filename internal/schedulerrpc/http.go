// Package schedulerrpc implements domain.SchedulerClient: the HTTP/JSON
// control-plane RPCs (Register/Unregister/KeepAlive) this backend issues to
// the cluster scheduler. Wire framing of the scheduler's own protocol is
// out of scope (spec §1); the teacher's net/http + encoding/json idiom is
// kept rather than introducing an ungrounded gRPC stack.
package schedulerrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
)

// Client is the HTTP implementation of domain.SchedulerClient.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client posting to the scheduler at baseURL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type registerWire struct {
	NodeType      string `json:"node_type"`
	NodeID        uint32 `json:"node_id"`
	ServerPort    int    `json:"server_port"`
	RPCPort       int    `json:"rpc_port"`
	GPUDeviceName string `json:"gpu_device_name"`
	GPUFreeMemory uint64 `json:"gpu_available_memory"`
}

type registerReplyWire struct {
	Status            string `json:"status"`
	BeaconIntervalSec int    `json:"beacon_interval_sec"`
}

// Register posts node identity/capability to the scheduler.
func (c *Client) Register(ctx context.Context, req domain.RegisterRequest) (domain.RegisterReply, error) {
	body := registerWire{
		NodeType:      req.NodeType,
		NodeID:        req.NodeID,
		ServerPort:    req.ServerPort,
		RPCPort:       req.RPCPort,
		GPUDeviceName: req.GPUDeviceName,
		GPUFreeMemory: req.GPUFreeMemory,
	}
	var reply registerReplyWire
	if err := c.post(ctx, "/v1/register", body, &reply); err != nil {
		return domain.RegisterReply{}, err
	}
	return domain.RegisterReply{
		Status:            domain.RegisterStatus(reply.Status),
		BeaconIntervalSec: reply.BeaconIntervalSec,
	}, nil
}

// Unregister notifies the scheduler this node is going offline.
func (c *Client) Unregister(ctx context.Context, nodeID string) error {
	var reply struct {
		Status string `json:"status"`
	}
	return c.post(ctx, "/v1/unregister", map[string]string{"node_id": nodeID}, &reply)
}

type keepAliveWire struct {
	NodeID string              `json:"node_id"`
	Stats  []domain.ModelStats `json:"model_stats"`
}

// KeepAlive sends a heartbeat with per-model rate/drop stats.
func (c *Client) KeepAlive(ctx context.Context, nodeID string, stats []domain.ModelStats) error {
	var reply struct {
		Status string `json:"status"`
	}
	return c.post(ctx, "/v1/keepalive", keepAliveWire{NodeID: nodeID, Stats: stats}, &reply)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", path, domain.ErrSchedulerUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: scheduler returned HTTP %d: %w", path, resp.StatusCode, domain.ErrSchedulerUnreachable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}
