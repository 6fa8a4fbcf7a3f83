package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"safetrade-chat/internal/domain"
	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/domain/message"
)

type PostgresMessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

const messageColumns = `id::text, conversation_id::text, sender_id::text, content, message_type,
	is_read, is_encrypted, fraud_score, COALESCE(fraud_risk_level, ''), fraud_flags, created_at`

func scanMessage(row pgx.Row) (message.Message, error) {
	var (
		m     message.Message
		typ   string
		risk  string
		score *int32
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &typ,
		&m.IsRead, &m.IsEncrypted, &score, &risk, &m.FraudFlags, &m.CreatedAt)
	if err != nil {
		return message.Message{}, err
	}
	m.Type = domain.MessageType(typ)
	m.FraudRisk = domain.RiskLevel(risk)
	if score != nil {
		v := int(*score)
		m.FraudScore = &v
	}
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]message.Message, error) {
	defer rows.Close()
	var out []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create inserts m and fills in the server-assigned id and timestamp.
func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	if m.Type == "" {
		m.Type = domain.MessageTypeText
	}
	flags := m.FraudFlags
	if flags == nil {
		flags = []string{}
	}
	var risk *string
	if m.FraudRisk != "" {
		v := string(m.FraudRisk)
		risk = &v
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, message_type, is_encrypted,
			fraud_score, fraud_risk_level, fraud_flags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id::text, created_at, is_read`,
		m.ConversationID, m.SenderID, m.Content, string(m.Type), m.IsEncrypted,
		m.FraudScore, risk, flags).
		Scan(&m.ID, &m.CreatedAt, &m.IsRead)
	return translate(err)
}

func (r *PostgresMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]message.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, translate(err)
	}
	return collectMessages(rows)
}

func (r *PostgresMessageRepository) MarkRead(ctx context.Context, conversationID, readerID string) ([]message.Message, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE
		RETURNING `+messageColumns, conversationID, readerID)
	if err != nil {
		return nil, translate(err)
	}
	return collectMessages(rows)
}

func (r *PostgresMessageRepository) Activity(ctx context.Context, conversationID, viewerID string) (conversation.ActivitySummary, error) {
	var s conversation.ActivitySummary
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE sender_id <> $2 AND is_read = FALSE),
			COUNT(*) FILTER (WHERE fraud_risk_level IN ('high', 'critical'))
		FROM messages
		WHERE conversation_id = $1`, conversationID, viewerID).
		Scan(&s.TotalMessages, &s.UnreadCount, &s.FraudAlerts)
	if err != nil {
		return conversation.ActivitySummary{}, translate(err)
	}
	if s.TotalMessages == 0 {
		return s, nil
	}

	err = r.db.QueryRow(ctx, `
		SELECT content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, conversationID).
		Scan(&s.LastMessage, &s.LastMessageAt)
	if err != nil {
		return conversation.ActivitySummary{}, translate(err)
	}
	return s, nil
}
