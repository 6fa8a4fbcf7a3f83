package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"safetrade-chat/config"
	"safetrade-chat/pkg/database"
)

const usage = `
SafeTrade Chat - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Apply the schema
  status      Show database connection status and row counts
  seed-dev    Seed demo traders, a listing and a conversation
  truncate    Truncate all tables (DANGEROUS)

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate seed-dev
`

func main() {
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	cfg := config.LoadConfig()
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	switch command := flag.Arg(0); command {
	case "up":
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Schema applied")
	case "status":
		for _, table := range []string{"users", "listings", "conversations", "messages"} {
			n, err := database.TableCount(ctx, pool, table)
			if err != nil {
				log.Printf("Table %-14s error: %v", table, err)
				continue
			}
			log.Printf("Table %-14s %d rows", table, n)
		}
	case "seed-dev":
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		res, err := database.SeedDevelopment(ctx, pool)
		if err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
		log.Printf("Seed summary: users=%d listings=%d conversations=%d messages=%d",
			res.Users, res.Listings, res.Conversations, res.Messages)
		log.Printf("Buyer %s, seller %s, conversation %s",
			database.SeedBuyerID, database.SeedSellerID, database.SeedConvID)
	case "truncate":
		if err := database.Truncate(ctx, pool); err != nil {
			log.Fatalf("Truncate failed: %v", err)
		}
		log.Println("All tables truncated")
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
