// Package mysql 提供 MySQL 持久化实现，会话与交易请求各占一张表，
// JSON 负载整体编码入列。提交签名时两张表在同一事务内更新。
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"SonicOnboard/internal/chat"
	xerrors "SonicOnboard/internal/errors"
	"SonicOnboard/internal/llm"
	"SonicOnboard/internal/txnflow"

	"github.com/go-sql-driver/mysql"
)

// Store 同时实现 chat.Store 与 txnflow.Store。
type Store struct {
	db *sql.DB
}

// New 连接 MySQL 并初始化表结构。
func New(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const conversations = `CREATE TABLE IF NOT EXISTS conversations (
        id VARCHAR(64) PRIMARY KEY,
        user_id VARCHAR(128) NOT NULL,
        messages LONGTEXT NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_conversation_user (user_id)
)`
	const requests = `CREATE TABLE IF NOT EXISTS transaction_requests (
        id VARCHAR(64) PRIMARY KEY,
        conversation_id VARCHAR(64) NOT NULL,
        chain_id BIGINT NOT NULL,
        user_address VARCHAR(64) NOT NULL,
        flow VARCHAR(16) NOT NULL,
        step INT NOT NULL DEFAULT 0,
        state VARCHAR(16) NOT NULL,
        data TEXT,
        transaction_details TEXT,
        failed_reason TEXT,
        tool_call_id VARCHAR(64) DEFAULT '',
        signed_tx_hash VARCHAR(80) DEFAULT '',
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_request_conversation_state (conversation_id, state)
)`

	if _, err := s.db.ExecContext(ctx, conversations); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 conversations 表失败")
	}
	if _, err := s.db.ExecContext(ctx, requests); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 transaction_requests 表失败")
	}
	return nil
}

// CreateConversation 插入新会话。
func (s *Store) CreateConversation(ctx context.Context, conversation *chat.Conversation) error {
	if conversation == nil || strings.TrimSpace(conversation.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	messages, err := json.Marshal(conversation.Messages)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码会话消息失败")
	}

	const stmt = `INSERT INTO conversations (id, user_id, messages, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		conversation.ID,
		conversation.UserID,
		string(messages),
		conversation.CreatedAt.Unix(),
		conversation.UpdatedAt.Unix(),
	)
	if err != nil {
		if isDuplicate(err) {
			return xerrors.New(xerrors.CodeConflict, "会话已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入会话失败")
	}
	return nil
}

// GetConversation 按 ID 查询会话。
func (s *Store) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	const stmt = `SELECT id, user_id, messages, created_at, updated_at FROM conversations WHERE id = ?`
	return scanConversation(s.db.QueryRowContext(ctx, stmt, id))
}

// SaveConversation 覆盖保存会话。
func (s *Store) SaveConversation(ctx context.Context, conversation *chat.Conversation) error {
	messages, err := json.Marshal(conversation.Messages)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码会话消息失败")
	}

	const stmt = `UPDATE conversations SET messages = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(messages), time.Now().Unix(), conversation.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新会话失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, getErr := s.GetConversation(ctx, conversation.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// CreateRequest 插入新请求。
func (s *Store) CreateRequest(ctx context.Context, request *txnflow.Request) error {
	if request == nil || strings.TrimSpace(request.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "请求 ID 不能为空")
	}
	data, details, err := marshalRequestPayload(request)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO transaction_requests
        (id, conversation_id, chain_id, user_address, flow, step, state, data, transaction_details,
         failed_reason, tool_call_id, signed_tx_hash, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		request.ID,
		request.ConversationID,
		request.ChainID,
		request.UserAddress,
		string(request.Flow),
		request.Step,
		string(request.State),
		data,
		details,
		request.FailedReason,
		request.ToolCallID,
		request.SignedTxHash,
		request.CreatedAt.Unix(),
		request.UpdatedAt.Unix(),
	)
	if err != nil {
		if isDuplicate(err) {
			return xerrors.New(xerrors.CodeConflict, "交易请求已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入交易请求失败")
	}
	return nil
}

// GetRequest 按 ID 查询请求。
func (s *Store) GetRequest(ctx context.Context, id string) (*txnflow.Request, error) {
	const stmt = requestColumns + ` WHERE id = ?`
	request, err := scanRequest(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		return nil, err
	}
	return request, nil
}

// ActiveRequest 查询会话当前唯一的 PROCESSING 请求。多于一个属于不
// 变量被破坏，LIMIT 2 足以判定。
func (s *Store) ActiveRequest(ctx context.Context, conversationID string) (*txnflow.Request, error) {
	const stmt = requestColumns + ` WHERE conversation_id = ? AND state = ? ORDER BY created_at ASC LIMIT 2`
	rows, err := s.db.QueryContext(ctx, stmt, conversationID, string(txnflow.StateProcessing))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询活跃请求失败")
	}
	defer rows.Close()

	var requests []*txnflow.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历活跃请求失败")
	}

	switch len(requests) {
	case 0:
		return nil, txnflow.ErrNoPendingTransaction
	case 1:
		return requests[0], nil
	default:
		return nil, txnflow.ErrMultiplePendingTransactions
	}
}

// SaveRequest 覆盖保存请求。
func (s *Store) SaveRequest(ctx context.Context, request *txnflow.Request) error {
	return s.saveRequest(ctx, s.db, request)
}

// SaveRequestWithConversation 在同一事务内保存请求与会话。
func (s *Store) SaveRequestWithConversation(ctx context.Context, request *txnflow.Request, conversation *chat.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}

	if err := s.saveRequest(ctx, tx, request); err != nil {
		_ = tx.Rollback()
		return err
	}

	messages, err := json.Marshal(conversation.Messages)
	if err != nil {
		_ = tx.Rollback()
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码会话消息失败")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET messages = ?, updated_at = ? WHERE id = ?`,
		string(messages), time.Now().Unix(), conversation.ID); err != nil {
		_ = tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新会话失败")
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) saveRequest(ctx context.Context, db execer, request *txnflow.Request) error {
	data, details, err := marshalRequestPayload(request)
	if err != nil {
		return err
	}

	const stmt = `UPDATE transaction_requests SET step = ?, state = ?, data = ?, transaction_details = ?,
        failed_reason = ?, tool_call_id = ?, signed_tx_hash = ?, updated_at = ? WHERE id = ?`
	res, err := db.ExecContext(ctx, stmt,
		request.Step,
		string(request.State),
		data,
		details,
		request.FailedReason,
		request.ToolCallID,
		request.SignedTxHash,
		time.Now().Unix(),
		request.ID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新交易请求失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, getErr := s.GetRequest(ctx, request.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

const requestColumns = `SELECT id, conversation_id, chain_id, user_address, flow, step, state, data,
        transaction_details, failed_reason, tool_call_id, signed_tx_hash, created_at, updated_at
        FROM transaction_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*chat.Conversation, error) {
	var conversation chat.Conversation
	var messages string
	var createdAt, updatedAt int64

	if err := row.Scan(&conversation.ID, &conversation.UserID, &messages, &createdAt, &updatedAt); err != nil {
		if xerrors.Is(err, sql.ErrNoRows) {
			return nil, chat.ErrConversationNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	if err := json.Unmarshal([]byte(messages), &conversation.Messages); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话消息失败")
	}
	if conversation.Messages == nil {
		conversation.Messages = []llm.Message{}
	}
	conversation.CreatedAt = time.Unix(createdAt, 0).UTC()
	conversation.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &conversation, nil
}

func scanRequest(row rowScanner) (*txnflow.Request, error) {
	var request txnflow.Request
	var flow, state string
	var data, details, failedReason, toolCallID, signedTxHash sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(
		&request.ID,
		&request.ConversationID,
		&request.ChainID,
		&request.UserAddress,
		&flow,
		&request.Step,
		&state,
		&data,
		&details,
		&failedReason,
		&toolCallID,
		&signedTxHash,
		&createdAt,
		&updatedAt,
	); err != nil {
		if xerrors.Is(err, sql.ErrNoRows) {
			return nil, txnflow.ErrRequestNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易请求失败")
	}

	request.Flow = txnflow.Flow(flow)
	request.State = txnflow.State(state)
	request.FailedReason = failedReason.String
	request.ToolCallID = toolCallID.String
	request.SignedTxHash = signedTxHash.String
	request.CreatedAt = time.Unix(createdAt, 0).UTC()
	request.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	request.Data = map[string]any{}
	if data.Valid && strings.TrimSpace(data.String) != "" {
		if err := json.Unmarshal([]byte(data.String), &request.Data); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析请求数据失败")
		}
	}
	if details.Valid && strings.TrimSpace(details.String) != "" {
		var tx txnflow.TransactionDetails
		if err := json.Unmarshal([]byte(details.String), &tx); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析待签交易失败")
		}
		request.Transaction = &tx
	}
	return &request, nil
}

func marshalRequestPayload(request *txnflow.Request) (string, sql.NullString, error) {
	data, err := json.Marshal(request.Data)
	if err != nil {
		return "", sql.NullString{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码请求数据失败")
	}
	if request.Transaction == nil {
		return string(data), sql.NullString{}, nil
	}
	details, err := json.Marshal(request.Transaction)
	if err != nil {
		return "", sql.NullString{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码待签交易失败")
	}
	return string(data), sql.NullString{String: string(details), Valid: true}, nil
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return xerrors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

var (
	_ chat.Store    = (*Store)(nil)
	_ txnflow.Store = (*Store)(nil)
)
