package monero

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bisoncraft/go-monero/rpc"
	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/ports"
)

const (
	WalletServerRpcName = "monero-wallet-rpc"
	WalletLogLevel      = "2"

	HttpLocalhost = "http://127.0.0.1:"
	Json2query    = "/json_rpc"
)

const (
	DaemonAddressParam                = "--daemon-address="
	RpcBindPortParam                  = "--rpc-bind-port="
	StagenetParam                     = "--stagenet"
	TrustedDaemonParam                = "--trusted-daemon"
	WalletDirParam                    = "--wallet-dir="
	DisableRpcLoginParam              = "--disable-rpc-login"
	AllowMismatchedDaemonVersionParam = "--allow-mismatched-daemon-version"
	LogFileParam                      = "--log-file="
	LogLevelParam                     = "--log-level="
)

// rpcReadyTimeout bounds how long a freshly spawned wallet-rpc process may
// take to start answering.
var rpcReadyTimeout = 30 * time.Second

// WalletFactoryConfig describes how wallet-rpc processes are launched.
type WalletFactoryConfig struct {
	// CliToolsDir is where the monero cli tools live; empty means $PATH.
	CliToolsDir   string
	WalletDir     string
	DaemonAddress string
	Stagenet      bool
	TrustedDaemon bool
}

type walletFactory struct {
	cfg WalletFactoryConfig
}

// NewWalletFactory returns a ports.WalletFactory spawning one
// monero-wallet-rpc process per Start call.
func NewWalletFactory(cfg WalletFactoryConfig) (ports.WalletFactory, error) {
	binary := walletRpcBinary(cfg.CliToolsDir)
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%s not found: %w", WalletServerRpcName, err)
	}
	return &walletFactory{cfg: cfg}, nil
}

func (f *walletFactory) Start(ctx context.Context, port int) (ports.WalletClient, error) {
	if port == 0 {
		var err error
		if port, err = ephemeralPort(); err != nil {
			return nil, err
		}
	}

	cmd := exec.Command(walletRpcBinary(f.cfg.CliToolsDir))
	cmd.Args = append(cmd.Args, DaemonAddressParam+f.cfg.DaemonAddress)
	cmd.Args = append(cmd.Args, RpcBindPortParam+strconv.Itoa(port))
	if f.cfg.Stagenet {
		cmd.Args = append(cmd.Args, StagenetParam)
	}
	if f.cfg.TrustedDaemon {
		cmd.Args = append(cmd.Args, TrustedDaemonParam)
	}
	cmd.Args = append(cmd.Args, WalletDirParam+f.cfg.WalletDir)
	cmd.Args = append(cmd.Args, DisableRpcLoginParam)
	cmd.Args = append(cmd.Args, AllowMismatchedDaemonVersionParam)
	logfilePath := filepath.Join(
		f.cfg.WalletDir, fmt.Sprintf("%s.%d.log", WalletServerRpcName, port),
	)
	cmd.Args = append(cmd.Args, LogFileParam+logfilePath)
	cmd.Args = append(cmd.Args, LogLevelParam+WalletLogLevel)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", WalletServerRpcName, err)
	}
	log.Debugf("started %s pid %d on port %d", WalletServerRpcName, cmd.Process.Pid, port)

	addr := HttpLocalhost + strconv.Itoa(port)
	client := &walletClient{
		addr: addr,
		port: port,
		http: &http.Client{},
		rpc: rpc.New(rpc.Config{
			Address: addr + Json2query,
			Client:  &http.Client{},
		}),
		cmd: cmd,
	}

	if err := client.waitReady(ctx); err != nil {
		client.Kill()
		return nil, err
	}
	return client, nil
}

func walletRpcBinary(cliToolsDir string) string {
	if cliToolsDir == "" {
		return WalletServerRpcName
	}
	return filepath.Join(cliToolsDir, WalletServerRpcName)
}

// ephemeralPort asks the OS for a free tcp port. The listener is closed right
// away; the spawned process binds the port itself.
func ephemeralPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocating ephemeral port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
