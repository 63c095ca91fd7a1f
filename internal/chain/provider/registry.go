// Package provider turns chain definitions into ready-to-use networks.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"AgentVault/internal/chain"
	"AgentVault/internal/chain/evm"
	"AgentVault/internal/chain/solana"
)

// Registry manages a set of networks keyed by human readable names.
type Registry struct {
	defaultChain string
	networks     map[string]*chain.Network
}

// NewRegistry loads chain definitions from path and instantiates a driver
// for every entry. defaultChain overrides the file's own default.
func NewRegistry(ctx context.Context, path, defaultChain string) (*Registry, error) {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return nil, err
	}
	if defaultChain == "" {
		defaultChain = defs.Default
	}

	networks := make([]*chain.Network, 0, len(defs.Chains))
	for name, def := range defs.Chains {
		network, err := build(ctx, name, def)
		if err != nil {
			for _, n := range networks {
				n.RPC.Close()
			}
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		networks = append(networks, network)
	}
	registry, err := NewStaticRegistry(defaultChain, networks...)
	if err != nil {
		for _, n := range networks {
			n.RPC.Close()
		}
		return nil, err
	}
	return registry, nil
}

func build(ctx context.Context, name string, def Definition) (*chain.Network, error) {
	limits := chain.Limits{
		RequestsPerSecond: def.RequestsPerSecond,
		Burst:             def.Burst,
		Timeout:           def.Timeout,
	}
	httpClient := &http.Client{}

	switch def.family() {
	case string(chain.FamilySolana):
		client, err := solana.Dial(ctx, solana.Config{
			Name:       name,
			RPCURL:     def.RPCURL,
			Commitment: def.Commitment,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, err
		}
		return &chain.Network{
			Name:        name,
			Description: def.Description,
			Scheme:      solana.NewScheme(),
			RPC:         chain.Throttle(client, limits),
		}, nil
	case string(chain.FamilyEVM):
		client, err := evm.Dial(ctx, evm.Config{
			Name:       name,
			RPCURL:     def.RPCURL,
			ChainID:    def.chainID(),
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, err
		}
		return &chain.Network{
			Name:        name,
			Description: def.Description,
			Scheme:      evm.NewScheme(def.Symbol),
			RPC:         chain.Throttle(client, limits),
		}, nil
	default:
		return nil, fmt.Errorf("不支持的链类型 %s", def.Type)
	}
}

// NewStaticRegistry builds a registry from already constructed networks.
// With no explicit default the alphabetically first name is used.
func NewStaticRegistry(defaultChain string, networks ...*chain.Network) (*Registry, error) {
	byName := make(map[string]*chain.Network, len(networks))
	for _, network := range networks {
		if network == nil || network.Scheme == nil || network.RPC == nil {
			return nil, errors.New("网络定义缺少 scheme 或 rpc")
		}
		if _, dup := byName[network.Name]; dup {
			return nil, fmt.Errorf("链 %s 重复定义", network.Name)
		}
		byName[network.Name] = network
	}
	if len(byName) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := byName[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	return &Registry{defaultChain: defaultChain, networks: byName}, nil
}

// Default returns the network configured as default chain.
func (r *Registry) Default() *chain.Network {
	return r.networks[r.defaultChain]
}

// DefaultName returns the default chain name.
func (r *Registry) DefaultName() string {
	return r.defaultChain
}

// Get returns the network identified by name.
func (r *Registry) Get(name string) (*chain.Network, bool) {
	if r == nil {
		return nil, false
	}
	network, ok := r.networks[strings.TrimSpace(name)]
	return network, ok
}

// Resolve returns the named network, or the default when name is empty.
func (r *Registry) Resolve(name string) (*chain.Network, error) {
	if strings.TrimSpace(name) == "" {
		return r.Default(), nil
	}
	network, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown chain %q", name)
	}
	return network, nil
}

// Names returns the sorted list of registered chain names.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all networks managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, network := range r.networks {
		network.RPC.Close()
		delete(r.networks, name)
	}
}
