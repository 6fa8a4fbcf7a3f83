package repository

import (
	"context"

	"safetrade-chat/internal/domain/user"
)

type PostgresUserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) UserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetProfile(ctx context.Context, id string) (user.Profile, error) {
	var p user.Profile
	err := r.db.QueryRow(ctx, `
		SELECT id::text, display_name, identity_verified, created_at
		FROM users WHERE id = $1`, id).
		Scan(&p.ID, &p.DisplayName, &p.IdentityVerified, &p.CreatedAt)
	if err != nil {
		return user.Profile{}, translate(err)
	}
	return p, nil
}

// GetProfiles looks up several users at once. Unknown ids are absent from
// the result.
func (r *PostgresUserRepository) GetProfiles(ctx context.Context, ids []string) (map[string]user.Profile, error) {
	out := make(map[string]user.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, display_name, identity_verified, created_at
		FROM users WHERE id IN (`+buildPlaceholders(1, len(ids))+`)`, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	for rows.Next() {
		var p user.Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.IdentityVerified, &p.CreatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
