// httptransport.go implements Transport over plain HTTP/JSON POSTs to a
// peer backend's relay endpoint, mirroring the schedulerrpc client's
// net/http + encoding/json idiom (wire framing itself is a spec Non-goal).
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tutu-network/tutu/internal/wire"
)

type relayWire struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	Payload   []byte `json:"payload"`
}

// HTTPTransport posts relay requests to a peer backend's /v1/relay endpoint.
type HTTPTransport struct {
	http *http.Client
}

// NewHTTPTransport creates an HTTPTransport with a fixed per-call timeout.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{http: &http.Client{Timeout: 5 * time.Second}}
}

// SendRelay implements Transport by POSTing req to address/v1/relay.
func (t *HTTPTransport) SendRelay(ctx context.Context, address string, req wire.Request) error {
	body := relayWire{RequestID: req.RequestID, SessionID: req.SessionID, Payload: req.Payload}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+address+"/v1/relay", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("relay to %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("relay to %s: HTTP %d", address, resp.StatusCode)
	}
	return nil
}
