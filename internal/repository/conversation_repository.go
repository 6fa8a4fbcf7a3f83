package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"safetrade-chat/internal/domain/conversation"
	safetrade_errors "safetrade-chat/pkg/errors"
)

type PostgresConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

const conversationColumns = `id::text, listing_id::text, buyer_id::text, seller_id::text, created_at, updated_at`

func scanConversation(row pgx.Row) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := row.Scan(&c.ID, &c.ListingID, &c.BuyerID, &c.SellerID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id string) (conversation.Conversation, error) {
	c, err := scanConversation(r.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		return conversation.Conversation{}, translate(err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) ListForUser(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresConversationRepository) CreateOrGet(ctx context.Context, listingID, buyerID, sellerID string) (conversation.Conversation, bool, error) {
	c, err := scanConversation(r.db.QueryRow(ctx, `
		INSERT INTO conversations (listing_id, buyer_id, seller_id)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT conversations_party_unique DO NOTHING
		RETURNING `+conversationColumns, listingID, buyerID, sellerID))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return conversation.Conversation{}, false, translate(err)
	}

	c, err = scanConversation(r.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE listing_id = $1 AND buyer_id = $2 AND seller_id = $3`, listingID, buyerID, sellerID))
	if err != nil {
		return conversation.Conversation{}, false, translate(err)
	}
	return c, false, nil
}

func (r *PostgresConversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return safetrade_errors.ErrNotFound
	}
	return nil
}
