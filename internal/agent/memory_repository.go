package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	xerrors "AgentVault/internal/errors"
)

// MemoryRepository 以内存方式保存 Agent，可选地落盘为 JSON 快照，
// 方便本地开发的守护进程在重启后保留钱包。
type MemoryRepository struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	snapshot string
}

// MemoryOption 配置 MemoryRepository。
type MemoryOption func(*MemoryRepository)

// WithSnapshot 指定快照文件路径，写操作成功后整体重写。
func WithSnapshot(path string) MemoryOption {
	return func(m *MemoryRepository) {
		m.snapshot = path
	}
}

// NewMemoryRepository 创建内存仓库，若快照存在则加载。
func NewMemoryRepository(opts ...MemoryOption) (*MemoryRepository, error) {
	m := &MemoryRepository{agents: make(map[string]*Agent)}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MemoryRepository) load() error {
	if m.snapshot == "" {
		return nil
	}
	raw, err := os.ReadFile(m.snapshot)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Agent 快照失败")
	}
	var records []*Agent
	if err := json.Unmarshal(raw, &records); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 Agent 快照失败")
	}
	for _, record := range records {
		if record == nil || record.ID == "" {
			continue
		}
		m.agents[record.ID] = record
	}
	return nil
}

// FindAgent 实现 Repository 接口。
func (m *MemoryRepository) FindAgent(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// FindByPublicKey 按公钥查找 Agent。
func (m *MemoryRepository) FindByPublicKey(_ context.Context, publicKey string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, record := range m.agents {
		if publicKey != "" && record.PublicKey == publicKey {
			return record.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// SaveAgent 整条替换 Agent 记录，公钥与其他 Agent 冲突时拒绝写入。
func (m *MemoryRepository) SaveAgent(_ context.Context, agent *Agent) error {
	if agent == nil || agent.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent.PublicKey != "" {
		for id, record := range m.agents {
			if id != agent.ID && record.PublicKey == agent.PublicKey {
				return ErrPublicKeyConflict
			}
		}
	}

	now := time.Now().Unix()
	if agent.CreatedAt == 0 {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	previous, existed := m.agents[agent.ID]
	m.agents[agent.ID] = agent.Clone()
	if err := m.persistLocked(); err != nil {
		if existed {
			m.agents[agent.ID] = previous
		} else {
			delete(m.agents, agent.ID)
		}
		return err
	}
	return nil
}

// ListAgents 返回最近创建的 Agent。
func (m *MemoryRepository) ListAgents(_ context.Context, limit int) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Agent, 0, len(m.agents))
	for _, record := range m.agents {
		results = append(results, record.Clone())
	}
	sortAgents(results)
	if limit = NormalizeLimit(limit); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close 对内存仓库无需操作。
func (m *MemoryRepository) Close() error {
	return nil
}

func (m *MemoryRepository) persistLocked() error {
	if m.snapshot == "" {
		return nil
	}
	records := make([]*Agent, 0, len(m.agents))
	for _, record := range m.agents {
		records = append(records, record)
	}
	sortAgents(records)

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化 Agent 快照失败")
	}
	if err := writeFileAtomic(m.snapshot, raw); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Agent 快照失败")
	}
	return nil
}

func sortAgents(records []*Agent) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt == records[j].CreatedAt {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt > records[j].CreatedAt
	})
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".agents-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
