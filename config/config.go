package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/btcsuite/btcutil"

	"bcrnode/banknode"
	"bcrnode/core/types"
)

type Config struct {
	DataDir       string `toml:"DataDir"`
	StatusAddress string `toml:"StatusAddress"`
	Environment   string `toml:"Environment"`

	Banknode  Banknode  `toml:"banknode"`
	Wallet    Wallet    `toml:"wallet"`
	Directory Directory `toml:"directory"`
	Log       Log       `toml:"log"`
}

// Banknode configures the local banknode controller.
type Banknode struct {
	Enabled bool `toml:"Enabled"`
	// Address is the external ip[:port] to announce; empty means detect.
	Address string `toml:"Address"`
	// OperatorKey is a WIF or hex private key. Prefer OperatorKeystorePath.
	OperatorKey          string          `toml:"OperatorKey,omitempty"`
	OperatorKeystorePath string          `toml:"OperatorKeystorePath"`
	PassphraseEnv        string          `toml:"PassphraseEnv"`
	MinConfirmations     int64           `toml:"MinConfirmations"`
	ProtocolVersion      uint32          `toml:"ProtocolVersion"`
	TickIntervalSeconds  int64           `toml:"TickIntervalSeconds"`
	ProbeTimeoutSeconds  int64           `toml:"ProbeTimeoutSeconds"`
	AllowPrivateAddress  bool            `toml:"AllowPrivateAddress"`
	Collateral           []CollateralEra `toml:"collateral"`
}

// CollateralEra requires AmountBCR as collateral from Height onwards.
type CollateralEra struct {
	Height    int64   `toml:"Height"`
	AmountBCR float64 `toml:"AmountBCR"`
}

// Wallet locates the wallet daemon's JSON-RPC endpoint.
type Wallet struct {
	RPCURL         string `toml:"RPCURL"`
	RPCUser        string `toml:"RPCUser"`
	RPCPassword    string `toml:"RPCPassword,omitempty"`
	RPCPasswordEnv string `toml:"RPCPasswordEnv"`
	TimeoutSeconds int64  `toml:"TimeoutSeconds"`
}

// Directory tunes acceptance of inbound banknode gossip.
type Directory struct {
	MinProtocolVersion uint32  `toml:"MinProtocolVersion"`
	RateLimit          float64 `toml:"RateLimit"`
	RateBurst          int     `toml:"RateBurst"`
}

// Log selects the log level and optional rotating log file.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	var unknown []string
	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && strings.EqualFold(undecoded[0], "banknodeprivkey") {
			return nil, fmt.Errorf("config file %s uses deprecated banknodeprivkey field; set [banknode] OperatorKeystorePath", path)
		}
		unknown = append(unknown, undecoded.String())
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(unknown, ", "))
	}

	cfg.applyDefaults(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh installation.
func Default() *Config {
	cfg := &Config{
		DataDir:       "./bcr-data",
		StatusAddress: "127.0.0.1:8878",
		Banknode: Banknode{
			Enabled:       true,
			PassphraseEnv: "BCR_OPERATOR_PASS",
		},
		Wallet: Wallet{
			RPCURL:         "http://127.0.0.1:8876",
			RPCPasswordEnv: "BCR_RPC_PASSWORD",
		},
	}
	cfg.applyDefaults("")
	return cfg
}

func (c *Config) applyDefaults(configPath string) {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./bcr-data"
	}
	b := &c.Banknode
	if b.OperatorKey == "" && b.OperatorKeystorePath == "" {
		b.OperatorKeystorePath = defaultKeystorePath(configPath)
	}
	if b.MinConfirmations == 0 {
		b.MinConfirmations = banknode.DefaultMinConfirmations
	}
	if b.ProtocolVersion == 0 {
		b.ProtocolVersion = banknode.DefaultProtocolVersion
	}
	if b.TickIntervalSeconds == 0 {
		b.TickIntervalSeconds = int64(banknode.DefaultTickInterval / time.Second)
	}
	if b.ProbeTimeoutSeconds == 0 {
		b.ProbeTimeoutSeconds = 5
	}
	if len(b.Collateral) == 0 {
		for _, era := range banknode.DefaultCollateralPolicy.Eras() {
			b.Collateral = append(b.Collateral, CollateralEra{Height: era.Height, AmountBCR: era.Amount.ToBTC()})
		}
	}
	if c.Wallet.TimeoutSeconds == 0 {
		c.Wallet.TimeoutSeconds = 15
	}
	if c.Directory.MinProtocolVersion == 0 {
		c.Directory.MinProtocolVersion = b.ProtocolVersion
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
}

// CollateralPolicy converts the configured eras.
func (c *Config) CollateralPolicy() (banknode.CollateralPolicy, error) {
	eras := make([]banknode.CollateralEra, 0, len(c.Banknode.Collateral))
	for _, era := range c.Banknode.Collateral {
		amount, err := btcutil.NewAmount(era.AmountBCR)
		if err != nil {
			return banknode.CollateralPolicy{}, fmt.Errorf("collateral era at %d: %w", era.Height, err)
		}
		eras = append(eras, banknode.CollateralEra{Height: era.Height, Amount: amount})
	}
	return banknode.NewCollateralPolicy(eras...)
}

// ServiceAddress parses the configured banknode address. A zero Service
// means the address is detected at runtime.
func (c *Config) ServiceAddress() (types.Service, error) {
	if strings.TrimSpace(c.Banknode.Address) == "" {
		return types.Service{}, nil
	}
	return types.ParseService(c.Banknode.Address)
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Banknode.TickIntervalSeconds) * time.Second
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Banknode.ProbeTimeoutSeconds) * time.Second
}

func (c *Config) WalletTimeout() time.Duration {
	return time.Duration(c.Wallet.TimeoutSeconds) * time.Second
}

// WalletPassword returns the RPC password from the environment when
// RPCPasswordEnv is set, falling back to the file value.
func (c *Config) WalletPassword() string {
	if env := strings.TrimSpace(c.Wallet.RPCPasswordEnv); env != "" {
		if v, ok := os.LookupEnv(env); ok {
			return v
		}
	}
	return c.Wallet.RPCPassword
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	cfg.Banknode.OperatorKeystorePath = defaultKeystorePath(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
