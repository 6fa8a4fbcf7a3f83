package repository

import (
	"context"

	"safetrade-chat/internal/domain/conversation"
)

type PostgresListingRepository struct {
	db DBTX
}

func NewListingRepository(db DBTX) ListingRepository {
	return &PostgresListingRepository{db: db}
}

func (r *PostgresListingRepository) GetSummary(ctx context.Context, id string) (conversation.ListingSummary, error) {
	var s conversation.ListingSummary
	err := r.db.QueryRow(ctx, `
		SELECT id::text, title, price::float8, make, model, year
		FROM listings WHERE id = $1`, id).
		Scan(&s.ID, &s.Title, &s.Price, &s.Make, &s.Model, &s.Year)
	if err != nil {
		return conversation.ListingSummary{}, translate(err)
	}
	return s, nil
}
