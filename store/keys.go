package store

import (
	"context"
	"database/sql"

	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/secrets"
)

type apiKeyRow struct {
	ID            string         `db:"id"`
	Provider      string         `db:"provider"`
	Secret        string         `db:"secret"`
	DailyQuota    int            `db:"daily_quota"`
	UsedToday     int            `db:"used_today"`
	LastErrorAt   sql.NullTime   `db:"last_error_at"`
	CooldownUntil sql.NullTime   `db:"cooldown_until"`
	IsActive      bool           `db:"is_active"`
}

func (r apiKeyRow) toModel(passphrase string) *model.APIKey {
	secret := r.Secret
	if plain, err := secrets.AesDecryptStr(r.Secret, passphrase); err == nil {
		secret = plain
	}
	k := &model.APIKey{
		ID:         r.ID,
		Provider:   r.Provider,
		Secret:     secret,
		DailyQuota: r.DailyQuota,
		UsedToday:  r.UsedToday,
		IsActive:   r.IsActive,
	}
	if r.LastErrorAt.Valid {
		k.LastErrorAt = &r.LastErrorAt.Time
	}
	if r.CooldownUntil.Valid {
		k.CooldownUntil = &r.CooldownUntil.Time
	}
	return k
}

// LoadAPIKeys reads the at-rest credential store, decrypting each key's
// secret with passphrase (spec.md §3 "API Key"; secrets.AesDecryptStr
// backs the Key Pool's at-rest encryption, grounded on
// nandlabs-golly/secrets/aes.go).
func (s *Store) LoadAPIKeys(ctx context.Context, passphrase string) ([]*model.APIKey, error) {
	var rows []apiKeyRow
	if err := s.DB.SelectContext(ctx, &rows, `SELECT * FROM api_keys`); err != nil {
		return nil, err
	}
	out := make([]*model.APIKey, len(rows))
	for i, r := range rows {
		out[i] = r.toModel(passphrase)
	}
	return out, nil
}

// UpsertAPIKey persists key, encrypting its secret at rest with
// passphrase before it ever touches the database.
func (s *Store) UpsertAPIKey(ctx context.Context, key *model.APIKey, passphrase string) error {
	encrypted, err := secrets.AesEncryptStr(passphrase, key.Secret)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO api_keys (id, provider, secret, daily_quota, used_today, last_error_at, cooldown_until, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			secret = EXCLUDED.secret, daily_quota = EXCLUDED.daily_quota,
			used_today = EXCLUDED.used_today, last_error_at = EXCLUDED.last_error_at,
			cooldown_until = EXCLUDED.cooldown_until, is_active = EXCLUDED.is_active`,
		key.ID, key.Provider, encrypted, key.DailyQuota, key.UsedToday,
		key.LastErrorAt, key.CooldownUntil, key.IsActive)
	return err
}

// LoadPolicyRules reads the storage_policy_rules table for
// storagepolicy.LoadRules to seed the engine at startup.
func (s *Store) LoadPolicyRules(ctx context.Context) ([]*model.StoragePolicyRule, error) {
	type row struct {
		Provider           string  `db:"provider"`
		Endpoint           string  `db:"endpoint"`
		Enabled            bool    `db:"enabled"`
		MinSizeBytes       int64   `db:"min_size_bytes"`
		MaxSizeBytes       int64   `db:"max_size_bytes"`
		AllowedStatusCodes []int64 `db:"allowed_status_codes"`
		Priority           int     `db:"priority"`
		TTLDays            int     `db:"ttl_days"`
	}
	var rows []row
	if err := s.DB.SelectContext(ctx, &rows, `SELECT * FROM storage_policy_rules`); err != nil {
		return nil, err
	}
	out := make([]*model.StoragePolicyRule, len(rows))
	for i, r := range rows {
		codes := make([]int, len(r.AllowedStatusCodes))
		for j, c := range r.AllowedStatusCodes {
			codes[j] = int(c)
		}
		out[i] = &model.StoragePolicyRule{
			Provider:           r.Provider,
			Endpoint:           r.Endpoint,
			Enabled:            r.Enabled,
			MinSizeBytes:       r.MinSizeBytes,
			MaxSizeBytes:       r.MaxSizeBytes,
			AllowedStatusCodes: codes,
			Priority:           model.StoragePriority(r.Priority),
			TTLDays:            r.TTLDays,
		}
	}
	return out, nil
}
