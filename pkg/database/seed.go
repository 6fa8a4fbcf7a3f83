package database

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Fixed ids keep seeding idempotent and let chatctl point at known rows.
const (
	SeedBuyerID      = "00000000-0000-4000-8000-000000000001"
	SeedSellerID     = "00000000-0000-4000-8000-000000000002"
	SeedUnverifiedID = "00000000-0000-4000-8000-000000000003"
	SeedListingID    = "00000000-0000-4000-8000-000000000101"
	SeedConvID       = "00000000-0000-4000-8000-000000000201"
)

// SeedResult summarises what a seed run touched.
type SeedResult struct {
	Users         int64
	Listings      int64
	Conversations int64
	Messages      int64
}

// SeedDevelopment inserts two verified traders, one unverified user, a
// listing and an opening exchange between the traders.
func SeedDevelopment(ctx context.Context, pool *pgxpool.Pool) (*SeedResult, error) {
	log.Println("Starting database seeding...")

	result := &SeedResult{}
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		users := []struct {
			id, name string
			verified bool
		}{
			{SeedBuyerID, "Alice Buyer", true},
			{SeedSellerID, "Sam Seller", true},
			{SeedUnverifiedID, "Uma Unverified", false},
		}
		for _, u := range users {
			tag, err := tx.Exec(ctx, `
				INSERT INTO users (id, display_name, identity_verified)
				VALUES ($1, $2, $3)
				ON CONFLICT (id) DO NOTHING`, u.id, u.name, u.verified)
			if err != nil {
				return fmt.Errorf("seed user %s: %w", u.name, err)
			}
			result.Users += tag.RowsAffected()
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO listings (id, seller_id, title, price, make, model, year)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			SeedListingID, SeedSellerID, "2019 Toyota Corolla LE", 16500, "Toyota", "Corolla", 2019)
		if err != nil {
			return fmt.Errorf("seed listing: %w", err)
		}
		result.Listings = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			INSERT INTO conversations (id, listing_id, buyer_id, seller_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`, SeedConvID, SeedListingID, SeedBuyerID, SeedSellerID)
		if err != nil {
			return fmt.Errorf("seed conversation: %w", err)
		}
		result.Conversations = tag.RowsAffected()
		if result.Conversations == 0 {
			return nil
		}

		opening := []struct{ sender, content string }{
			{SeedBuyerID, "Hi, is the Corolla still available?"},
			{SeedSellerID, "Yes it is. Happy to meet at a safe zone this weekend."},
		}
		for i, m := range opening {
			tag, err := tx.Exec(ctx, `
				INSERT INTO messages (conversation_id, sender_id, content, message_type, fraud_score, fraud_risk_level, created_at)
				VALUES ($1, $2, $3, 'text', 0, 'low', NOW() - make_interval(mins => $4))`,
				SeedConvID, m.sender, m.content, len(opening)-i)
			if err != nil {
				return fmt.Errorf("seed message: %w", err)
			}
			result.Messages += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Println("Database seeding completed successfully!")
	return result, nil
}

// TableCount returns the row count of one of the schema's tables.
func TableCount(ctx context.Context, pool *pgxpool.Pool, table string) (int64, error) {
	switch table {
	case "users", "listings", "conversations", "messages":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// Truncate empties every table of the schema.
func Truncate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, "TRUNCATE messages, conversations, listings, users CASCADE")
	return err
}
