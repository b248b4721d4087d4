// Package config loads the node configuration from a YAML file and turns it
// into validated runtime values.
package config

import (
	"fmt"
	"os"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/mintclaw/paycore/internal/amount"
	"github.com/mintclaw/paycore/internal/fee"
	"github.com/mintclaw/paycore/internal/ident"
)

type Config struct {
	DataDir  string    `yaml:"data_dir"`
	LogLevel string    `yaml:"log_level"`
	Fee      FeeConfig `yaml:"fee"`
	Genesis  []Grant   `yaml:"genesis"`
}

type FeeConfig struct {
	BasisPoints uint16 `yaml:"basis_points"`
	Recipient   string `yaml:"recipient"`
}

// Grant is a genesis balance, minted once when the node starts on an empty
// store. Amount is in display units ("1.5" = 1500000 smallest units).
type Grant struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

func Default() Config {
	return Config{
		DataDir:  "paycore-data",
		LogLevel: "info",
		Fee:      FeeConfig{BasisPoints: fee.DefaultBasisPoints},
	}
}

// Load reads path on top of the defaults. A missing fee recipient or a bad
// address fails here rather than at first settlement.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if _, err := c.FeePolicy(); err != nil {
		return err
	}
	if _, err := c.GenesisGrants(); err != nil {
		return err
	}
	return nil
}

func (c Config) FeePolicy() (fee.Policy, error) {
	recipient, err := ident.ParseAddress(c.Fee.Recipient)
	if err != nil {
		return fee.Policy{}, fmt.Errorf("fee recipient: %w", err)
	}
	policy, err := fee.NewPolicy(c.Fee.BasisPoints, recipient)
	if err != nil {
		return fee.Policy{}, fmt.Errorf("fee policy: %w", err)
	}
	return policy, nil
}

// GenesisGrant is a parsed Grant.
type GenesisGrant struct {
	Address ident.Address
	Amount  *uint256.Int
}

func (c Config) GenesisGrants() ([]GenesisGrant, error) {
	grants := make([]GenesisGrant, 0, len(c.Genesis))
	for i, g := range c.Genesis {
		addr, err := ident.ParseAddress(g.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		amt, err := amount.Parse(g.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if amt.IsZero() {
			return nil, fmt.Errorf("genesis[%d]: amount must be positive", i)
		}
		grants = append(grants, GenesisGrant{Address: addr, Amount: amt})
	}
	return grants, nil
}
