package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/birdnest/apiserver/internal/db"
	"github.com/birdnest/apiserver/types"
)

const userColumns = `id, email, username, password_hash, status, verify_email_token,
		forgot_password_token, name, bio, avatar, cover, date_of_birth, location,
		website, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db db.DBTX
}

func NewUserRepository(q db.DBTX) *UserRepository {
	return &UserRepository{db: q}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

// Create inserts user with the id already minted by the caller.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.Status,
		nullString(user.VerifyEmailToken),
		nullString(user.ForgotPasswordToken),
		user.Name,
		user.Bio,
		user.Avatar,
		user.Cover,
		user.DateOfBirth,
		user.Location,
		user.Website,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

// MarkVerified sets the account verified and clears its pending token.
func (r *UserRepository) MarkVerified(ctx context.Context, id string) error {
	const query = `
		UPDATE users
		SET status = $2,
			verify_email_token = NULL,
			updated_at = $3
		WHERE id = $1`
	return r.exec(ctx, query, id, types.UserStatusVerified, time.Now().UTC())
}

func (r *UserRepository) SetVerifyEmailToken(ctx context.Context, id, token string) error {
	const query = `
		UPDATE users
		SET verify_email_token = $2,
			updated_at = $3
		WHERE id = $1`
	return r.exec(ctx, query, id, nullString(token), time.Now().UTC())
}

func (r *UserRepository) SetForgotPasswordToken(ctx context.Context, id, token string) error {
	const query = `
		UPDATE users
		SET forgot_password_token = $2,
			updated_at = $3
		WHERE id = $1`
	return r.exec(ctx, query, id, nullString(token), time.Now().UTC())
}

// ResetPassword stores a new digest and consumes the forgot-password token.
func (r *UserRepository) ResetPassword(ctx context.Context, id, passwordHash string) error {
	const query = `
		UPDATE users
		SET password_hash = $2,
			forgot_password_token = NULL,
			updated_at = $3
		WHERE id = $1`
	return r.exec(ctx, query, id, passwordHash, time.Now().UTC())
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `
		UPDATE users
		SET password_hash = $2,
			updated_at = $3
		WHERE id = $1`
	return r.exec(ctx, query, id, passwordHash, time.Now().UTC())
}

// UpdateProfile applies the defined fields of patch and returns the row.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, patch types.ProfileUpdate) (types.User, error) {
	const query = `
		UPDATE users
		SET name = COALESCE($2, name),
			bio = COALESCE($3, bio),
			avatar = COALESCE($4, avatar),
			cover = COALESCE($5, cover),
			date_of_birth = COALESCE($6, date_of_birth),
			location = COALESCE($7, location),
			website = COALESCE($8, website),
			updated_at = $9
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(
		ctx,
		query,
		id,
		patch.Name,
		patch.Bio,
		patch.Avatar,
		patch.Cover,
		patch.DateOfBirth,
		patch.Location,
		patch.Website,
		time.Now().UTC(),
	))
}

func (r *UserRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (types.User, error) {
	var (
		user        types.User
		verifyToken sql.NullString
		forgotToken sql.NullString
		dateOfBirth sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&user.Status,
		&verifyToken,
		&forgotToken,
		&user.Name,
		&user.Bio,
		&user.Avatar,
		&user.Cover,
		&dateOfBirth,
		&user.Location,
		&user.Website,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.VerifyEmailToken = verifyToken.String
	user.ForgotPasswordToken = forgotToken.String
	if dateOfBirth.Valid {
		dob := dateOfBirth.Time
		user.DateOfBirth = &dob
	}
	return user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
