package monero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bisoncraft/go-monero/rpc"
	"github.com/sony/gobreaker"

	"github.com/escrow-network/escrowd/internal/core/ports"
)

// daemonClient talks to a monerod node. Key image queries go through the
// daemon's restricted endpoint, which is not part of json_rpc. All calls run
// behind a circuit breaker: the node may be remote and a flapping one should
// not be hammered by the watcher loop.
type daemonClient struct {
	addr    string
	http    *http.Client
	rpc     *rpc.Client
	breaker *gobreaker.CircuitBreaker
}

// NewDaemonClient returns a ports.DaemonClient bound to the given monerod
// address.
func NewDaemonClient(addr string) ports.DaemonClient {
	return &daemonClient{
		addr: addr,
		http: &http.Client{},
		rpc: rpc.New(rpc.Config{
			Address: addr + Json2query,
			Client:  &http.Client{},
		}),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "monerod",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests > 10 && ratio >= 0.6
			},
		}),
	}
}

func (d *daemonClient) IsKeyImageSpent(
	ctx context.Context, keyImages []string,
) ([]ports.SpentStatus, error) {
	res, err := d.breaker.Execute(func() (interface{}, error) {
		return d.isKeyImageSpent(ctx, keyImages)
	})
	if err != nil {
		return nil, err
	}
	return res.([]ports.SpentStatus), nil
}

func (d *daemonClient) GetHeight(ctx context.Context) (uint64, error) {
	res, err := d.breaker.Execute(func() (interface{}, error) {
		info, err := d.rpc.DaemonGetInfo(ctx)
		if err != nil {
			return nil, err
		}
		if info.Status != "OK" {
			return nil, fmt.Errorf("daemon bad status: %s", info.Status)
		}
		return info.Height, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

func (d *daemonClient) isKeyImageSpent(
	ctx context.Context, keyImages []string,
) ([]ports.SpentStatus, error) {
	body, err := json.Marshal(struct {
		KeyImages []string `json:"key_images"`
	}{keyImages})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, d.addr+"/is_key_image_spent", bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is_key_image_spent: %w", err)
	}
	defer httpResp.Body.Close()

	var resp struct {
		SpentStatus []int  `json:"spent_status"`
		Status      string `json:"status"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("is_key_image_spent: decoding response: %w", err)
	}
	if resp.Status != "OK" {
		return nil, fmt.Errorf("is_key_image_spent: bad status: %s", resp.Status)
	}
	if len(resp.SpentStatus) != len(keyImages) {
		return nil, fmt.Errorf(
			"is_key_image_spent: got %d statuses for %d key images",
			len(resp.SpentStatus), len(keyImages),
		)
	}

	statuses := make([]ports.SpentStatus, len(resp.SpentStatus))
	for i, s := range resp.SpentStatus {
		switch s {
		case 1:
			statuses[i] = ports.SpentStatusConfirmed
		case 2:
			statuses[i] = ports.SpentStatusInPool
		default:
			statuses[i] = ports.SpentStatusUnspent
		}
	}
	return statuses, nil
}
