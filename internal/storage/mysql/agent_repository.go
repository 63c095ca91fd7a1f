package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"AgentVault/internal/agent"
	"AgentVault/internal/envelope"
	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/units"
)

const (
	agentColumns = `id, chain, public_key, wrapped_private_key, wrapped_aek, master_key_id, spend_limit, created_at, updated_at`

	selectAgentByID        = `SELECT ` + agentColumns + ` FROM agents WHERE id = ?`
	selectAgentByPublicKey = `SELECT ` + agentColumns + ` FROM agents WHERE public_key = ?`
	selectLatestAgents     = `SELECT ` + agentColumns + ` FROM agents ORDER BY created_at DESC, id DESC LIMIT ?`
	lockAgentRow           = `SELECT id FROM agents WHERE id = ? FOR UPDATE`
	insertAgent            = `INSERT INTO agents (` + agentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	// spend_limit and created_at are immutable once a row exists.
	updateAgent = `UPDATE agents SET chain = ?, public_key = ?, wrapped_private_key = ?, wrapped_aek = ?, master_key_id = ?, updated_at = ? WHERE id = ?`

	errDuplicateEntry = 1062
)

var _ agent.Repository = (*AgentRepository)(nil)

// AgentRepository 使用 MySQL 保存 Agent 记录。
type AgentRepository struct {
	db *sql.DB
}

// NewAgentRepository 建立连接池并执行迁移。
func NewAgentRepository(ctx context.Context, cfg Config) (*AgentRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &AgentRepository{db: db}, nil
}

// FindAgent 实现 agent.Repository。
func (r *AgentRepository) FindAgent(ctx context.Context, id string) (*agent.Agent, error) {
	return r.findOne(ctx, selectAgentByID, id)
}

// FindByPublicKey 实现 agent.Repository。
func (r *AgentRepository) FindByPublicKey(ctx context.Context, publicKey string) (*agent.Agent, error) {
	if strings.TrimSpace(publicKey) == "" {
		return nil, agent.ErrNotFound
	}
	return r.findOne(ctx, selectAgentByPublicKey, publicKey)
}

func (r *AgentRepository) findOne(ctx context.Context, query string, arg any) (*agent.Agent, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 Agent 失败")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 Agent 失败")
		}
		return nil, agent.ErrNotFound
	}
	record, err := scanAgent(rows)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SaveAgent 在事务中整条替换或插入 Agent。公钥唯一约束冲突时返回
// agent.ErrPublicKeyConflict。
func (r *AgentRepository) SaveAgent(ctx context.Context, record *agent.Agent) (err error) {
	if record == nil || record.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	privateKey, err := encodeBundle(record.WrappedPrivateKey)
	if err != nil {
		return err
	}
	aek, err := encodeBundle(record.WrappedAEK)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	exists, err := rowExists(ctx, tx, record.ID)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	publicKey := sql.NullString{String: record.PublicKey, Valid: record.PublicKey != ""}
	if exists {
		_, err = tx.ExecContext(ctx, updateAgent, record.Chain, publicKey, privateKey, aek, record.MasterKeyID, now, record.ID)
	} else {
		if record.CreatedAt == 0 {
			record.CreatedAt = now
		}
		_, err = tx.ExecContext(ctx, insertAgent, record.ID, record.Chain, publicKey, privateKey, aek, record.MasterKeyID, record.SpendLimit, record.CreatedAt, now)
	}
	if err != nil {
		return translateWriteError(err)
	}

	if err = tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	record.UpdatedAt = now
	return nil
}

func rowExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	rows, err := tx.QueryContext(ctx, lockAgentRow, id)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "锁定 Agent 记录失败")
	}
	defer rows.Close()
	exists := rows.Next()
	if err := rows.Err(); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "锁定 Agent 记录失败")
	}
	return exists, nil
}

func translateWriteError(err error) error {
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry {
		if strings.Contains(mysqlErr.Message, "public_key") {
			return agent.ErrPublicKeyConflict
		}
		return xerrors.Wrap(xerrors.CodeConflict, err, "Agent 已存在")
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Agent 失败")
}

// ListAgents 返回最近创建的 Agent。
func (r *AgentRepository) ListAgents(ctx context.Context, limit int) ([]*agent.Agent, error) {
	rows, err := r.db.QueryContext(ctx, selectLatestAgents, agent.NormalizeLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 Agent 列表失败")
	}
	defer rows.Close()

	var records []*agent.Agent
	for rows.Next() {
		record, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 Agent 列表失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (r *AgentRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func scanAgent(rows *sql.Rows) (*agent.Agent, error) {
	var (
		record     agent.Agent
		publicKey  sql.NullString
		privateKey []byte
		aek        []byte
		spendLimit string
	)
	if err := rows.Scan(&record.ID, &record.Chain, &publicKey, &privateKey, &aek, &record.MasterKeyID, &spendLimit, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 Agent 记录失败")
	}
	record.PublicKey = publicKey.String

	var err error
	if record.WrappedPrivateKey, err = decodeBundle(privateKey); err != nil {
		return nil, err
	}
	if record.WrappedAEK, err = decodeBundle(aek); err != nil {
		return nil, err
	}

	scaled, err := units.Parse(spendLimit, units.SpendLimitScale)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("Agent %s 的 spend_limit 无法解析", record.ID))
	}
	record.SpendLimit = units.Format(scaled, units.SpendLimitScale)
	return &record, nil
}

func encodeBundle(bundle *envelope.Bundle) (any, error) {
	if bundle == nil {
		return nil, nil
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化密文失败")
	}
	return string(raw), nil
}

func decodeBundle(raw []byte) (*envelope.Bundle, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var bundle envelope.Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析密文失败")
	}
	return &bundle, nil
}
