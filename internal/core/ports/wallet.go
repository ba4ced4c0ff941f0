package ports

import "context"

// SubaddressInfo describes one subaddress of the main account.
type SubaddressInfo struct {
	Index   uint32
	Address string
	Used    bool
	// Balance includes unconfirmed incoming funds: deciding whether a
	// subaddress is unused on the confirmed balance alone races with a
	// just-funded address.
	Balance         uint64
	UnlockedBalance uint64
}

// TransferResult is the outcome of creating (and optionally relaying) a
// wallet transaction.
type TransferResult struct {
	TxId   string
	TxHex  string
	TxKey  string
	Amount uint64
	Fee    uint64
}

// WalletClient is the capability object over one wallet-rpc process. All
// operations block; callers dispatch them off the message-handling path.
type WalletClient interface {
	CreateWallet(ctx context.Context, filename, password string) error
	OpenWallet(ctx context.Context, filename, password string) error
	// CloseWallet closes the currently open wallet file. Closing an already
	// closed wallet is reported as an error by the rpc server and ignored by
	// most callers.
	CloseWallet(ctx context.Context) error
	ChangePassword(ctx context.Context, oldPassword, newPassword string) error
	Save(ctx context.Context) error

	Refresh(ctx context.Context) (blocksFetched uint64, err error)
	GetHeight(ctx context.Context) (uint64, error)
	GetBalance(ctx context.Context, accountIndex uint32) (total, unlocked uint64, err error)
	CreateSubaddress(ctx context.Context, accountIndex uint32) (SubaddressInfo, error)
	GetSubaddresses(ctx context.Context, accountIndex uint32) ([]SubaddressInfo, error)

	PrepareMultisig(ctx context.Context) (string, error)
	MakeMultisig(
		ctx context.Context, multisigInfo []string, threshold uint32, password string,
	) (multisigHex string, address string, err error)
	ExchangeMultisigKeys(
		ctx context.Context, multisigInfo []string, password string,
	) (multisigHex string, address string, err error)
	ExportMultisigInfo(ctx context.Context) (string, error)
	ImportMultisigInfo(ctx context.Context, infos []string) error

	Transfer(ctx context.Context, address string, amount uint64) (TransferResult, error)
	SignMultisigTx(ctx context.Context, txHex string) (signedHex string, txIds []string, err error)
	SubmitMultisigTx(ctx context.Context, signedHex string) (txIds []string, err error)

	// Port is the rpc bind port of the underlying process.
	Port() int
	// Stop terminates the wallet-rpc process, waiting for a clean exit.
	Stop() error
	// Kill force-terminates the process without waiting.
	Kill()
}

// WalletFactory launches wallet-rpc processes. A port of 0 requests an
// ephemeral OS-assigned bind port.
type WalletFactory interface {
	Start(ctx context.Context, port int) (WalletClient, error)
}

// SpentStatus mirrors the daemon's view of a key image.
type SpentStatus int

const (
	SpentStatusUnspent SpentStatus = iota
	SpentStatusConfirmed
	SpentStatusInPool
)

// DaemonClient is the subset of the node daemon rpc used by the trade core.
type DaemonClient interface {
	// IsKeyImageSpent returns one status per requested key image, in order.
	IsKeyImageSpent(ctx context.Context, keyImages []string) ([]SpentStatus, error)
	GetHeight(ctx context.Context) (uint64, error)
}
