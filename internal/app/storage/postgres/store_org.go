package postgres

import (
	"context"
	"database/sql"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
)

func (s *Store) CreateOrg(ctx context.Context, o org.Org) (org.Org, error) {
	if o.ID == "" {
		o.ID = newID(idgen.Org)
	}
	allowOrigins, err := marshalStringSlice(o.CORSAllowOrigins)
	if err != nil {
		return org.Org{}, apperr.Internal(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orgs (id, name, platform_fee_bps, platform_fee_wallet, cors_allow_origins, quota_open_jobs, quota_monthly_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())`,
		o.ID, o.Name, o.PlatformFeeBps, toNullString(o.PlatformFeeWallet), allowOrigins, o.QuotaOpenJobs, o.QuotaMonthlyCents)
	if err != nil {
		return org.Org{}, apperr.Internal(err)
	}
	return s.GetOrg(ctx, o.ID)
}

func (s *Store) GetOrg(ctx context.Context, id string) (org.Org, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, platform_fee_bps, platform_fee_wallet, cors_allow_origins, quota_open_jobs, quota_monthly_cents, created_at, updated_at
		FROM orgs WHERE id = $1`, id)
	return scanOrg(row)
}

func (s *Store) UpdateOrg(ctx context.Context, o org.Org) (org.Org, error) {
	allowOrigins, err := marshalStringSlice(o.CORSAllowOrigins)
	if err != nil {
		return org.Org{}, apperr.Internal(err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orgs SET name=$2, platform_fee_bps=$3, platform_fee_wallet=$4, cors_allow_origins=$5,
			quota_open_jobs=$6, quota_monthly_cents=$7, updated_at=now()
		WHERE id=$1`,
		o.ID, o.Name, o.PlatformFeeBps, toNullString(o.PlatformFeeWallet), allowOrigins, o.QuotaOpenJobs, o.QuotaMonthlyCents)
	if err != nil {
		return org.Org{}, apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return org.Org{}, apperr.NotFound("org")
	}
	return s.GetOrg(ctx, o.ID)
}

func scanOrg(scanner rowScanner) (org.Org, error) {
	var (
		o        org.Org
		wallet   sql.NullString
		origins  []byte
		created  sql.NullTime
		updated  sql.NullTime
	)
	if err := scanner.Scan(&o.ID, &o.Name, &o.PlatformFeeBps, &wallet, &origins, &o.QuotaOpenJobs, &o.QuotaMonthlyCents, &created, &updated); err != nil {
		if isNoRows(err) {
			return org.Org{}, apperr.NotFound("org")
		}
		return org.Org{}, apperr.Internal(err)
	}
	o.PlatformFeeWallet = fromNullString(wallet)
	list, err := unmarshalStringSlice(origins)
	if err != nil {
		return org.Org{}, apperr.Internal(err)
	}
	o.CORSAllowOrigins = list
	if created.Valid {
		o.CreatedAt = created.Time.UTC()
	}
	if updated.Valid {
		o.UpdatedAt = updated.Time.UTC()
	}
	return o, nil
}

func (s *Store) CreateOrgUser(ctx context.Context, u org.OrgUser) (org.OrgUser, error) {
	if u.ID == "" {
		u.ID = newID(idgen.OrgUser)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_users (id, org_id, email, scrypt_hash, scrypt_salt, created_at)
		VALUES ($1,$2,lower($3),$4,$5,now())`,
		u.ID, u.OrgID, u.Email, u.ScryptHash, u.ScryptSalt)
	if err != nil {
		if isUniqueViolation(err) {
			return org.OrgUser{}, apperr.Conflict("conflict", "email already registered")
		}
		return org.OrgUser{}, apperr.Internal(err)
	}
	return s.GetOrgUserByEmail(ctx, u.Email)
}

func (s *Store) GetOrgUserByEmail(ctx context.Context, email string) (org.OrgUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, email, scrypt_hash, scrypt_salt, created_at FROM org_users WHERE email = lower($1)`, email)
	var (
		u       org.OrgUser
		created sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.OrgID, &u.Email, &u.ScryptHash, &u.ScryptSalt, &created); err != nil {
		if isNoRows(err) {
			return org.OrgUser{}, apperr.NotFound("org user")
		}
		return org.OrgUser{}, apperr.Internal(err)
	}
	if created.Valid {
		u.CreatedAt = created.Time.UTC()
	}
	return u, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, k org.ApiKey) (org.ApiKey, error) {
	if k.ID == "" {
		k.ID = newID(idgen.APIKey)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, org_id, token_hash, label, created_at)
		VALUES ($1,$2,$3,$4,now())`, k.ID, k.OrgID, k.TokenHash, k.Label)
	if err != nil {
		return org.ApiKey{}, apperr.Internal(err)
	}
	return s.GetAPIKeyByHash(ctx, k.TokenHash)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (org.ApiKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, token_hash, label, created_at, revoked_at FROM api_keys WHERE token_hash = $1`, hash)
	var (
		k         org.ApiKey
		created   sql.NullTime
		revokedAt sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.OrgID, &k.TokenHash, &k.Label, &created, &revokedAt); err != nil {
		if isNoRows(err) {
			return org.ApiKey{}, apperr.NotFound("api key")
		}
		return org.ApiKey{}, apperr.Internal(err)
	}
	if created.Valid {
		k.CreatedAt = created.Time.UTC()
	}
	k.RevokedAt = fromNullTime(revokedAt)
	return k, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess org.Session) (org.Session, error) {
	if sess.ID == "" {
		sess.ID = newID(idgen.Session)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, org_user_id, org_id, csrf_token, created_at, expires_at)
		VALUES ($1,$2,$3,$4,now(),$5)`, sess.ID, sess.OrgUserID, sess.OrgID, sess.CSRFToken, sess.ExpiresAt.UTC())
	if err != nil {
		return org.Session{}, apperr.Internal(err)
	}
	return s.GetSession(ctx, sess.ID)
}

func (s *Store) GetSession(ctx context.Context, id string) (org.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_user_id, org_id, csrf_token, created_at, expires_at, revoked_at FROM sessions WHERE id = $1`, id)
	var (
		sess       org.Session
		created    sql.NullTime
		expires    sql.NullTime
		revokedAt  sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.OrgUserID, &sess.OrgID, &sess.CSRFToken, &created, &expires, &revokedAt); err != nil {
		if isNoRows(err) {
			return org.Session{}, apperr.NotFound("session")
		}
		return org.Session{}, apperr.Internal(err)
	}
	if created.Valid {
		sess.CreatedAt = created.Time.UTC()
	}
	if expires.Valid {
		sess.ExpiresAt = expires.Time.UTC()
	}
	sess.RevokedAt = fromNullTime(revokedAt)
	return sess, nil
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) CreateOrigin(ctx context.Context, o org.Origin) (org.Origin, error) {
	if o.ID == "" {
		o.ID = newID(idgen.Origin)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO origins (id, org_id, origin_url, status, method, token, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())`, o.ID, o.OrgID, o.OriginURL, o.Status, o.Method, o.Token)
	if err != nil {
		if isUniqueViolation(err) {
			return org.Origin{}, apperr.Conflict("conflict", "origin already registered")
		}
		return org.Origin{}, apperr.Internal(err)
	}
	return s.GetOrigin(ctx, o.ID)
}

func (s *Store) GetOrigin(ctx context.Context, id string) (org.Origin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, origin_url, status, method, token, verified_at, created_at FROM origins WHERE id = $1`, id)
	return scanOrigin(row)
}

func scanOrigin(scanner rowScanner) (org.Origin, error) {
	var (
		o          org.Origin
		verifiedAt sql.NullTime
		created    sql.NullTime
	)
	if err := scanner.Scan(&o.ID, &o.OrgID, &o.OriginURL, &o.Status, &o.Method, &o.Token, &verifiedAt, &created); err != nil {
		if isNoRows(err) {
			return org.Origin{}, apperr.NotFound("origin")
		}
		return org.Origin{}, apperr.Internal(err)
	}
	o.VerifiedAt = fromNullTime(verifiedAt)
	if created.Valid {
		o.CreatedAt = created.Time.UTC()
	}
	return o, nil
}

func (s *Store) ListVerifiedOrigins(ctx context.Context, orgID string) ([]org.Origin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, origin_url, status, method, token, verified_at, created_at
		FROM origins WHERE org_id = $1 AND status = $2`, orgID, org.OriginVerified)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []org.Origin
	for rows.Next() {
		o, err := scanOrigin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) UpdateOrigin(ctx context.Context, o org.Origin) (org.Origin, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE origins SET status=$2, verified_at=$3 WHERE id=$1`, o.ID, o.Status, toNullTime(o.VerifiedAt))
	if err != nil {
		return org.Origin{}, apperr.Internal(err)
	}
	return s.GetOrigin(ctx, o.ID)
}

func (s *Store) CreateApp(ctx context.Context, a org.App) (org.App, error) {
	if a.ID == "" {
		a.ID = newID(idgen.App)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO apps (id, org_id, slug, task_type, status, system)
		VALUES ($1,$2,$3,$4,$5,$6)`, a.ID, a.OrgID, a.Slug, a.TaskType, a.Status, a.System)
	if err != nil {
		if isUniqueViolation(err) {
			return org.App{}, apperr.Conflict("conflict", "app slug or task_type already registered")
		}
		return org.App{}, apperr.Internal(err)
	}
	return s.GetApp(ctx, a.ID)
}

func (s *Store) GetAppByTaskType(ctx context.Context, taskType string) (org.App, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, org_id, slug, task_type, status, system FROM apps WHERE task_type = $1`, taskType)
	return scanApp(row)
}

func (s *Store) GetApp(ctx context.Context, id string) (org.App, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, org_id, slug, task_type, status, system FROM apps WHERE id = $1`, id)
	return scanApp(row)
}

func scanApp(scanner rowScanner) (org.App, error) {
	var a org.App
	if err := scanner.Scan(&a.ID, &a.OrgID, &a.Slug, &a.TaskType, &a.Status, &a.System); err != nil {
		if isNoRows(err) {
			return org.App{}, apperr.NotFound("app")
		}
		return org.App{}, apperr.Internal(err)
	}
	return a, nil
}

func (s *Store) AddBlockedDomain(ctx context.Context, d org.BlockedDomain) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocked_domains (domain, reason, created_at) VALUES ($1,$2,now())
		ON CONFLICT (domain) DO NOTHING`, d.Domain, d.Reason)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) RemoveBlockedDomain(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blocked_domains WHERE domain = $1`, domain)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) IsBlockedDomain(ctx context.Context, domain string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM blocked_domains WHERE domain = $1)`, domain).Scan(&exists)
	if err != nil {
		return false, apperr.Internal(err)
	}
	return exists, nil
}
