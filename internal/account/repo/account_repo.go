package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
)

// lookupColumns whitelists the fields FindBy accepts.
var lookupColumns = map[string]string{
	entity.FieldID:       "id",
	entity.FieldEmail:    "email",
	entity.FieldUsername: "username",
}

// constraintFields maps unique index names to account fields.
var constraintFields = map[string]string{
	"accounts_email_key":      entity.FieldEmail,
	"accounts_username_key":   entity.FieldUsername,
	"accounts_last_name_key":  entity.FieldLastName,
	"accounts_first_name_key": entity.FieldFirstName,
}

// uniqueOrder is the order uniqueness is checked in. PostgreSQL reports the
// first violated index in creation order, and EnsureTable creates them in
// this order.
func uniqueOrder(uniqueNames bool) []string {
	if uniqueNames {
		return []string{entity.FieldEmail, entity.FieldUsername, entity.FieldLastName, entity.FieldFirstName}
	}
	return []string{entity.FieldEmail, entity.FieldUsername}
}

// AccountRepo provides data access for the accounts table using sqlx.
type AccountRepo struct {
	db          *sqlx.DB
	uniqueNames bool
}

func NewAccountRepo(db *sqlx.DB, uniqueNames bool) *AccountRepo {
	return &AccountRepo{db: db, uniqueNames: uniqueNames}
}

// EnsureTable creates the accounts table and its unique indexes (idempotent).
// Name indexes follow the uniqueNames setting and are dropped when it is off.
func (r *AccountRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS accounts (
  id BIGSERIAL PRIMARY KEY,
  password TEXT NOT NULL,
  password_algo TEXT NOT NULL DEFAULT '',
  last_login TIMESTAMPTZ,
  email CITEXT NOT NULL CHECK (char_length(email) <= 60),
  username VARCHAR(30) NOT NULL,
  first_name VARCHAR(40) NOT NULL,
  last_name VARCHAR(40) NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT true,
  is_staff BOOLEAN NOT NULL DEFAULT false,
  is_admin BOOLEAN NOT NULL DEFAULT false,
  is_superuser BOOLEAN NOT NULL DEFAULT false,
  date_joined TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT accounts_superuser_is_staff CHECK (NOT (is_superuser OR is_admin) OR is_staff)
);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_email_key ON accounts(email);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_username_key ON accounts(username);
`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}
	names := `
DROP INDEX IF EXISTS accounts_last_name_key;
DROP INDEX IF EXISTS accounts_first_name_key;
`
	if r.uniqueNames {
		names = `
CREATE UNIQUE INDEX IF NOT EXISTS accounts_last_name_key ON accounts(last_name);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_first_name_key ON accounts(first_name);
`
	}
	if _, err := r.db.ExecContext(ctx, names); err != nil {
		return fmt.Errorf("name indexes: %w", err)
	}
	return nil
}

type accountRow struct {
	ID           int64      `db:"id"`
	Password     string     `db:"password"`
	PasswordAlgo string     `db:"password_algo"`
	LastLogin    *time.Time `db:"last_login"`
	Email        string     `db:"email"`
	Username     string     `db:"username"`
	FirstName    string     `db:"first_name"`
	LastName     string     `db:"last_name"`
	IsActive     bool       `db:"is_active"`
	IsStaff      bool       `db:"is_staff"`
	IsAdmin      bool       `db:"is_admin"`
	IsSuperuser  bool       `db:"is_superuser"`
	DateJoined   time.Time  `db:"date_joined"`
}

func rowFromEntity(a *entity.Account) accountRow {
	return accountRow{
		ID:           a.ID,
		Password:     a.PasswordHash,
		PasswordAlgo: a.PasswordAlgo,
		LastLogin:    a.LastLogin,
		Email:        a.Email,
		Username:     a.Username,
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		IsActive:     a.IsActive,
		IsStaff:      a.IsStaff(),
		IsAdmin:      a.IsAdmin(),
		IsSuperuser:  a.IsSuperuser(),
		DateJoined:   a.DateJoined,
	}
}

func (row accountRow) toEntity() *entity.Account {
	return &entity.Account{
		ID:           row.ID,
		Email:        row.Email,
		Username:     row.Username,
		FirstName:    row.FirstName,
		LastName:     row.LastName,
		PasswordHash: row.Password,
		PasswordAlgo: row.PasswordAlgo,
		LastLogin:    row.LastLogin,
		DateJoined:   row.DateJoined,
		IsActive:     row.IsActive,
		Tier:         entity.TierFromFlags(row.IsStaff, row.IsAdmin, row.IsSuperuser),
	}
}

// Insert adds one row and returns the id assigned by the database. The single
// statement either writes the whole row or nothing.
func (r *AccountRepo) Insert(ctx context.Context, a *entity.Account) (int64, error) {
	const q = `INSERT INTO accounts (password,password_algo,last_login,email,username,first_name,last_name,is_active,is_staff,is_admin,is_superuser,date_joined)
		VALUES (:password,:password_algo,:last_login,:email,:username,:first_name,:last_name,:is_active,:is_staff,:is_admin,:is_superuser,:date_joined) RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, q, rowFromEntity(a))
	if err != nil {
		return 0, translate(err)
	}
	defer rows.Close()
	if rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	if err := rows.Err(); err != nil {
		return 0, translate(err)
	}
	return 0, errors.New("no id returned")
}

// FindBy fetches one account by id, email (case-insensitive via citext) or username.
func (r *AccountRepo) FindBy(ctx context.Context, field, value string) (*entity.Account, error) {
	col, ok := lookupColumns[field]
	if !ok {
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}
	var arg any = value
	if field == entity.FieldID {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, entity.ErrNotFound
		}
		arg = id
	}
	q := `SELECT id, password, password_algo, last_login, email, username, first_name, last_name,
		is_active, is_staff, is_admin, is_superuser, date_joined
		FROM accounts WHERE ` + col + `=$1`
	var row accountRow
	if err := r.db.GetContext(ctx, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// RecordLogin sets last_login while the account is active and still carries
// digest; both are checked in the same statement.
func (r *AccountRepo) RecordLogin(ctx context.Context, id int64, at time.Time, digest string) error {
	const q = `UPDATE accounts SET last_login=$2 WHERE id=$1 AND is_active AND password=$3`
	res, err := r.db.ExecContext(ctx, q, id, at, digest)
	if err != nil {
		return err
	}
	return r.conditional(ctx, res, id)
}

// UpdatePassword replaces the digest, only if it still equals expect when
// expect is non-empty.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id int64, hash, algo, expect string) error {
	if expect == "" {
		const q = `UPDATE accounts SET password=$2, password_algo=$3 WHERE id=$1`
		res, err := r.db.ExecContext(ctx, q, id, hash, algo)
		if err != nil {
			return err
		}
		return mustAffect(res)
	}
	const q = `UPDATE accounts SET password=$2, password_algo=$3 WHERE id=$1 AND password=$4`
	res, err := r.db.ExecContext(ctx, q, id, hash, algo, expect)
	if err != nil {
		return err
	}
	return r.conditional(ctx, res, id)
}

// UpdateTier rewrites the flag columns derived from tier.
func (r *AccountRepo) UpdateTier(ctx context.Context, id int64, tier entity.Tier) error {
	const q = `UPDATE accounts SET is_staff=$2, is_admin=$3, is_superuser=$4 WHERE id=$1`
	flags := rowFromEntity(&entity.Account{Tier: tier})
	res, err := r.db.ExecContext(ctx, q, id, flags.IsStaff, flags.IsAdmin, flags.IsSuperuser)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (r *AccountRepo) SetActive(ctx context.Context, id int64, active bool) error {
	const q = `UPDATE accounts SET is_active=$2 WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, active)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

// conditional tells a failed condition (ErrStale) from a missing row.
func (r *AccountRepo) conditional(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id=$1)`, id); err != nil {
		return err
	}
	if exists {
		return entity.ErrStale
	}
	return entity.ErrNotFound
}

// translate turns unique violations into *entity.DuplicateFieldError.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if field, ok := constraintFields[pqErr.Constraint]; ok {
			return &entity.DuplicateFieldError{Field: field}
		}
	}
	return err
}
