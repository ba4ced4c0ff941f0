package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// DatadirKey is the local data directory storing the internal state of
	// the daemon
	DatadirKey = "DATA_DIR_PATH"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// NetworkKey is the monero network to use. Either "mainnet" or "stagenet"
	NetworkKey = "NETWORK"
	// CliToolsDirKey is the directory holding the monero cli tools
	// (monero-wallet-rpc); empty means they are looked up on $PATH
	CliToolsDirKey = "CLI_TOOLS_DIR"
	// MonerodAddressKey is the url of the monerod node the wallets connect to
	MonerodAddressKey = "MONEROD_ADDRESS"
	// TrustedDaemonKey marks the monerod node as trusted (local nodes)
	TrustedDaemonKey = "TRUSTED_DAEMON"
	// WalletRpcStartPortKey is the first port assigned to spawned wallet-rpc
	// processes; 0 requests OS-assigned ephemeral ports
	WalletRpcStartPortKey = "WALLET_RPC_START_PORT"
	// WalletPasswordKey is the password protecting every wallet file
	WalletPasswordKey = "WALLET_PASSWORD"
	// NodeAddressKey is the address peers reach this node at
	NodeAddressKey = "NODE_ADDRESS"
	// SecurityDepositPctKey is the security deposit each trader locks,
	// expressed as a percentage of the trade amount
	SecurityDepositPctKey = "SECURITY_DEPOSIT_PCT"
	// DepositPollIntervalKey is the interval between deposit confirmation
	// checks on open trades
	DepositPollIntervalKey = "DEPOSIT_POLL_INTERVAL"
	// KeyImagePollIntervalKey is the interval between key image spent-status
	// checks against monerod
	KeyImagePollIntervalKey = "KEY_IMAGE_POLL_INTERVAL"
	// DisputeSweepIntervalKey is the interval between sweeps closing trades
	// whose dispute payout is already published
	DisputeSweepIntervalKey = "DISPUTE_SWEEP_INTERVAL"

	DbLocation      = "db"
	WalletsLocation = "wallets"

	NetworkMainnet  = "mainnet"
	NetworkStagenet = "stagenet"
)

var vip *viper.Viper

func init() {
	vip = viper.New()
	vip.SetEnvPrefix("ESCROWD")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir())
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(NetworkKey, NetworkStagenet)
	vip.SetDefault(CliToolsDirKey, "")
	vip.SetDefault(MonerodAddressKey, "http://127.0.0.1:38081")
	vip.SetDefault(TrustedDaemonKey, true)
	vip.SetDefault(WalletRpcStartPortKey, 0)
	vip.SetDefault(WalletPasswordKey, "")
	vip.SetDefault(NodeAddressKey, "")
	vip.SetDefault(SecurityDepositPctKey, 15)
	vip.SetDefault(DepositPollIntervalKey, 30*time.Second)
	vip.SetDefault(KeyImagePollIntervalKey, time.Minute)
	vip.SetDefault(DisputeSweepIntervalKey, 5*time.Minute)

	if err := validate(); err != nil {
		log.WithError(err).Panic("error while validating config")
	}
}

//GetString ...
func GetString(key string) string {
	return vip.GetString(key)
}

//GetInt ...
func GetInt(key string) int {
	return vip.GetInt(key)
}

//GetDuration ...
func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

//GetBool ...
func GetBool(key string) bool {
	return vip.GetBool(key)
}

// Set a value for the given key
func Set(key string, value interface{}) {
	vip.Set(key, value)
}

// IsSet returns whether the give key is set
func IsSet(key string) bool {
	return vip.IsSet(key)
}

//GetDatadir ...
func GetDatadir() string {
	return GetString(DatadirKey)
}

//GetDbDir ...
func GetDbDir() string {
	return filepath.Join(GetDatadir(), GetString(NetworkKey), DbLocation)
}

//GetWalletsDir ...
func GetWalletsDir() string {
	return filepath.Join(GetDatadir(), GetString(NetworkKey), WalletsLocation)
}

//IsStagenet ...
func IsStagenet() bool {
	return GetString(NetworkKey) == NetworkStagenet
}

// InitDatadir creates the data directory tree if missing.
func InitDatadir() error {
	for _, dir := range []string{GetDbDir(), GetWalletsDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

func defaultDatadir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".escrowd"
	}
	return filepath.Join(home, ".escrowd")
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("datadir must not be null")
	}

	networkName := GetString(NetworkKey)
	if networkName != NetworkMainnet && networkName != NetworkStagenet {
		return fmt.Errorf(
			"network must be either '%s' or '%s'", NetworkMainnet, NetworkStagenet,
		)
	}

	monerodAddress := GetString(MonerodAddressKey)
	if _, err := url.Parse(monerodAddress); err != nil {
		return fmt.Errorf("monerod address is not a valid url: %s", err)
	}

	pct := GetInt(SecurityDepositPctKey)
	if pct <= 0 || pct > 100 {
		return fmt.Errorf("security deposit percentage must be in range (0, 100]")
	}

	return nil
}
