package provider

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/chains.yaml.
type Definitions struct {
	Default string                `yaml:"default"`
	Chains  map[string]Definition `yaml:"chains"`
}

// Definition describes a single chain endpoint.
type Definition struct {
	Type              string        `yaml:"type"`
	RPCURL            string        `yaml:"rpc_url"`
	ChainID           int64         `yaml:"chain_id"`
	Symbol            string        `yaml:"symbol"`
	Commitment        string        `yaml:"commitment"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Description       string        `yaml:"description"`
}

// LoadDefinitions parses the YAML file containing chain metadata.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Chains: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]Definition{}
	}
	return defs, nil
}

func (d Definition) family() string {
	t := strings.ToLower(strings.TrimSpace(d.Type))
	if t == "" {
		return "evm"
	}
	return t
}

func (d Definition) chainID() *big.Int {
	if d.ChainID <= 0 {
		return nil
	}
	return big.NewInt(d.ChainID)
}
