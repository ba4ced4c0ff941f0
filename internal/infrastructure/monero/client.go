package monero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/bisoncraft/go-monero/rpc"
	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/ports"
)

const MainAccountIndex = 0

// stopGracePeriod is how long Stop waits for the wallet-rpc process to exit
// after an interrupt before falling back to a hard kill.
var stopGracePeriod = 10 * time.Second

// walletClient drives one monero-wallet-rpc process. Wallet lifecycle and
// sync calls go through the go-monero client; the multisig surface and the
// few calls it does not cover are issued directly against the json_rpc
// endpoint.
type walletClient struct {
	addr string
	port int
	http *http.Client
	rpc  *rpc.Client
	cmd  *exec.Cmd
}

var _ ports.WalletClient = (*walletClient)(nil)

func (c *walletClient) CreateWallet(ctx context.Context, filename, password string) error {
	createRq := rpc.CreateWalletRequest{
		Filename: filename,
		Password: password,
		Language: "English",
	}
	return c.rpc.CreateWallet(ctx, &createRq)
}

func (c *walletClient) OpenWallet(ctx context.Context, filename, password string) error {
	openRq := rpc.OpenWalletRequest{
		Filename: filename,
		Password: password,
	}
	return c.rpc.OpenWallet(ctx, &openRq)
}

func (c *walletClient) CloseWallet(ctx context.Context) error {
	return c.rpc.CloseWallet(ctx)
}

func (c *walletClient) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	params := struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}{oldPassword, newPassword}
	return c.call(ctx, "change_wallet_password", params, nil)
}

func (c *walletClient) Save(ctx context.Context) error {
	return c.call(ctx, "store", nil, nil)
}

func (c *walletClient) Refresh(ctx context.Context) (uint64, error) {
	refreshRq := rpc.RefreshRequest{}
	refreshResp, err := c.rpc.Refresh(ctx, &refreshRq)
	if err != nil {
		return 0, err
	}
	return refreshResp.BlocksFetched, nil
}

func (c *walletClient) GetHeight(ctx context.Context) (uint64, error) {
	ghResp, err := c.rpc.GetHeight(ctx)
	if err != nil {
		return 0, err
	}
	return ghResp.Height, nil
}

func (c *walletClient) GetBalance(
	ctx context.Context, accountIndex uint32,
) (uint64, uint64, error) {
	params := struct {
		AccountIndex uint32 `json:"account_index"`
	}{accountIndex}
	var resp struct {
		Balance         uint64 `json:"balance"`
		UnlockedBalance uint64 `json:"unlocked_balance"`
	}
	if err := c.call(ctx, "get_balance", params, &resp); err != nil {
		return 0, 0, err
	}
	return resp.Balance, resp.UnlockedBalance, nil
}

func (c *walletClient) CreateSubaddress(
	ctx context.Context, accountIndex uint32,
) (ports.SubaddressInfo, error) {
	params := struct {
		AccountIndex uint32 `json:"account_index"`
	}{accountIndex}
	var resp struct {
		Address      string `json:"address"`
		AddressIndex uint32 `json:"address_index"`
	}
	if err := c.call(ctx, "create_address", params, &resp); err != nil {
		return ports.SubaddressInfo{}, err
	}
	return ports.SubaddressInfo{
		Index:   resp.AddressIndex,
		Address: resp.Address,
	}, nil
}

func (c *walletClient) GetSubaddresses(
	ctx context.Context, accountIndex uint32,
) ([]ports.SubaddressInfo, error) {
	addrParams := struct {
		AccountIndex uint32 `json:"account_index"`
	}{accountIndex}
	var addrResp struct {
		Addresses []struct {
			Address      string `json:"address"`
			AddressIndex uint32 `json:"address_index"`
			Used         bool   `json:"used"`
		} `json:"addresses"`
	}
	if err := c.call(ctx, "get_address", addrParams, &addrResp); err != nil {
		return nil, err
	}

	var balResp struct {
		PerSubaddress []struct {
			AddressIndex    uint32 `json:"address_index"`
			Balance         uint64 `json:"balance"`
			UnlockedBalance uint64 `json:"unlocked_balance"`
		} `json:"per_subaddress"`
	}
	if err := c.call(ctx, "get_balance", addrParams, &balResp); err != nil {
		return nil, err
	}
	balances := make(map[uint32]struct{ total, unlocked uint64 }, len(balResp.PerSubaddress))
	for _, b := range balResp.PerSubaddress {
		balances[b.AddressIndex] = struct{ total, unlocked uint64 }{b.Balance, b.UnlockedBalance}
	}

	infos := make([]ports.SubaddressInfo, 0, len(addrResp.Addresses))
	for _, a := range addrResp.Addresses {
		info := ports.SubaddressInfo{
			Index:   a.AddressIndex,
			Address: a.Address,
			Used:    a.Used,
		}
		if b, ok := balances[a.AddressIndex]; ok {
			info.Balance = b.total
			info.UnlockedBalance = b.unlocked
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *walletClient) PrepareMultisig(ctx context.Context) (string, error) {
	var resp struct {
		MultisigInfo string `json:"multisig_info"`
	}
	if err := c.call(ctx, "prepare_multisig", nil, &resp); err != nil {
		return "", err
	}
	return resp.MultisigInfo, nil
}

func (c *walletClient) MakeMultisig(
	ctx context.Context, multisigInfo []string, threshold uint32, password string,
) (string, string, error) {
	params := struct {
		MultisigInfo []string `json:"multisig_info"`
		Threshold    uint32   `json:"threshold"`
		Password     string   `json:"password"`
	}{multisigInfo, threshold, password}
	var resp struct {
		Address      string `json:"address"`
		MultisigInfo string `json:"multisig_info"`
	}
	if err := c.call(ctx, "make_multisig", params, &resp); err != nil {
		return "", "", err
	}
	return resp.MultisigInfo, resp.Address, nil
}

func (c *walletClient) ExchangeMultisigKeys(
	ctx context.Context, multisigInfo []string, password string,
) (string, string, error) {
	params := struct {
		MultisigInfo []string `json:"multisig_info"`
		Password     string   `json:"password"`
	}{multisigInfo, password}
	var resp struct {
		Address      string `json:"address"`
		MultisigInfo string `json:"multisig_info"`
	}
	if err := c.call(ctx, "exchange_multisig_keys", params, &resp); err != nil {
		return "", "", err
	}
	return resp.MultisigInfo, resp.Address, nil
}

func (c *walletClient) ExportMultisigInfo(ctx context.Context) (string, error) {
	var resp struct {
		Info string `json:"info"`
	}
	if err := c.call(ctx, "export_multisig_info", nil, &resp); err != nil {
		return "", err
	}
	return resp.Info, nil
}

func (c *walletClient) ImportMultisigInfo(ctx context.Context, infos []string) error {
	params := struct {
		Info []string `json:"info"`
	}{infos}
	return c.call(ctx, "import_multisig_info", params, nil)
}

func (c *walletClient) Transfer(
	ctx context.Context, address string, amount uint64,
) (ports.TransferResult, error) {
	params := struct {
		Destinations []struct {
			Amount  uint64 `json:"amount"`
			Address string `json:"address"`
		} `json:"destinations"`
		AccountIndex uint32 `json:"account_index"`
		Priority     uint32 `json:"priority"`
		RingSize     uint64 `json:"ring_size"`
		UnlockTime   uint64 `json:"unlock_time"`
		GetTxHex     bool   `json:"get_tx_hex"`
		GetTxKey     bool   `json:"get_tx_key"`
	}{
		Destinations: []struct {
			Amount  uint64 `json:"amount"`
			Address string `json:"address"`
		}{{Amount: amount, Address: address}},
		AccountIndex: MainAccountIndex,
		RingSize:     16,
		GetTxHex:     true,
		GetTxKey:     true,
	}
	var resp struct {
		TxHash string `json:"tx_hash"`
		TxBlob string `json:"tx_blob"`
		TxKey  string `json:"tx_key"`
		Amount uint64 `json:"amount"`
		Fee    uint64 `json:"fee"`
	}
	if err := c.call(ctx, "transfer", params, &resp); err != nil {
		return ports.TransferResult{}, err
	}
	return ports.TransferResult{
		TxId:   resp.TxHash,
		TxHex:  resp.TxBlob,
		TxKey:  resp.TxKey,
		Amount: resp.Amount,
		Fee:    resp.Fee,
	}, nil
}

func (c *walletClient) SignMultisigTx(
	ctx context.Context, txHex string,
) (string, []string, error) {
	params := struct {
		TxDataHex string `json:"tx_data_hex"`
	}{txHex}
	var resp struct {
		TxDataHex string   `json:"tx_data_hex"`
		TxHashes  []string `json:"tx_hash_list"`
	}
	if err := c.call(ctx, "sign_multisig", params, &resp); err != nil {
		return "", nil, err
	}
	return resp.TxDataHex, resp.TxHashes, nil
}

func (c *walletClient) SubmitMultisigTx(
	ctx context.Context, signedHex string,
) ([]string, error) {
	params := struct {
		TxDataHex string `json:"tx_data_hex"`
	}{signedHex}
	var resp struct {
		TxHashes []string `json:"tx_hash_list"`
	}
	if err := c.call(ctx, "submit_multisig", params, &resp); err != nil {
		return nil, err
	}
	return resp.TxHashes, nil
}

func (c *walletClient) Port() int { return c.port }

func (c *walletClient) Stop() error {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	if err := c.cmd.Process.Signal(os.Interrupt); err != nil {
		c.Kill()
		return err
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()
	select {
	case <-done:
		return nil
	case <-time.After(stopGracePeriod):
		log.Warnf("wallet rpc on port %d did not exit in time, killing it", c.port)
		c.Kill()
		return nil
	}
}

func (c *walletClient) Kill() {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	_ = c.cmd.Process.Kill()
}

// waitReady polls the rpc endpoint until the process answers.
func (c *walletClient) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(rpcReadyTimeout)
	for {
		if _, err := c.GetHeight(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("wallet rpc on port %d not ready after %s", c.port, rpcReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

type rpcRequest struct {
	Jsonrpc string      `json:"jsonrpc"`
	Id      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call issues a raw json_rpc request against the wallet rpc server.
func (c *walletClient) call(
	ctx context.Context, method string, params, result interface{},
) error {
	body, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Id:      "0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.addr+Json2query, bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer httpResp.Body.Close()

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %s (%d)", method, resp.Error.Message, resp.Error.Code)
	}
	if result != nil {
		return json.Unmarshal(resp.Result, result)
	}
	return nil
}
