package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates no user exists for the email.
	ErrNotFound = errors.New("user not found")
	// ErrExists indicates a user already exists for the email.
	ErrExists = errors.New("user exists")
	// ErrCredentialNotFound indicates no passkey matches the identifier.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrCredentialExists indicates the passkey identifier is already registered.
	ErrCredentialExists = errors.New("credential exists")
)

// Repository persists users, their instruments and their passkeys.
type Repository interface {
	CreateUser(ctx context.Context, user User) error
	FindUserByEmail(ctx context.Context, email string) (User, error)
	AddCredential(ctx context.Context, cred Credential) error
	FindCredential(ctx context.Context, id []byte) (Credential, error)
	ListCredentials(ctx context.Context, email string) ([]Credential, error)
	UpdateSignCount(ctx context.Context, id []byte, count uint32, cloneWarning bool) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateUser inserts the user and its instruments in one transaction.
func (r *PostgresRepository) CreateUser(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `INSERT INTO wallet_users (id, email, display_name, created_at)
        VALUES ($1, $2, $3, $4)`, userID, user.Email, user.DisplayName, user.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return err
	}

	for i, in := range user.Instruments {
		_, err = tx.Exec(ctx, `INSERT INTO wallet_instruments (id, user_id, position, brand, last4, expiry, color_from, color_to)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, in.ID, userID, i, in.Brand, in.Last4, in.Expiry, in.ColorFrom, in.ColorTo)
		if err != nil {
			return fmt.Errorf("insert instrument: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// FindUserByEmail fetches a user and its ordered instruments.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT id, email, display_name, created_at FROM wallet_users WHERE email = $1`, email)
	var (
		id        uuid.UUID
		createdAt time.Time
		user      User
	)
	if err := row.Scan(&id, &user.Email, &user.DisplayName, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()

	rows, err := r.db.Query(ctx, `SELECT id, brand, last4, expiry, color_from, color_to
        FROM wallet_instruments WHERE user_id = $1 ORDER BY position`, id)
	if err != nil {
		return User{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var in Instrument
		if err := rows.Scan(&in.ID, &in.Brand, &in.Last4, &in.Expiry, &in.ColorFrom, &in.ColorTo); err != nil {
			return User{}, err
		}
		user.Instruments = append(user.Instruments, in)
	}
	return user, rows.Err()
}

// AddCredential stores a newly registered passkey.
func (r *PostgresRepository) AddCredential(ctx context.Context, cred Credential) error {
	_, err := r.db.Exec(ctx, `INSERT INTO wallet_credentials
        (id, email, public_key, attestation_type, aaguid, sign_count, clone_warning, backup_eligible, backup_state, transports, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		cred.ID, cred.Email, cred.PublicKey, cred.AttestationType, cred.AAGUID, int64(cred.SignCount),
		cred.CloneWarning, cred.BackupEligible, cred.BackupState, cred.Transports, cred.CreatedAt.UTC())
	if err != nil && isUniqueViolation(err) {
		return ErrCredentialExists
	}
	return err
}

const credentialColumns = `id, email, public_key, attestation_type, aaguid, sign_count, clone_warning, backup_eligible, backup_state, transports, created_at`

// FindCredential fetches a passkey by its raw identifier.
func (r *PostgresRepository) FindCredential(ctx context.Context, id []byte) (Credential, error) {
	row := r.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM wallet_credentials WHERE id = $1`, id)
	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrCredentialNotFound
	}
	return cred, err
}

// ListCredentials returns every passkey bound to the email.
func (r *PostgresRepository) ListCredentials(ctx context.Context, email string) ([]Credential, error) {
	rows, err := r.db.Query(ctx, `SELECT `+credentialColumns+` FROM wallet_credentials WHERE email = $1 ORDER BY created_at`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// UpdateSignCount persists the counter reported by the last accepted assertion.
func (r *PostgresRepository) UpdateSignCount(ctx context.Context, id []byte, count uint32, cloneWarning bool) error {
	cmd, err := r.db.Exec(ctx, `UPDATE wallet_credentials SET sign_count = $1, clone_warning = $2 WHERE id = $3`,
		int64(count), cloneWarning, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		cred      Credential
		signCount int64
		createdAt time.Time
	)
	err := row.Scan(&cred.ID, &cred.Email, &cred.PublicKey, &cred.AttestationType, &cred.AAGUID, &signCount,
		&cred.CloneWarning, &cred.BackupEligible, &cred.BackupState, &cred.Transports, &createdAt)
	if err != nil {
		return Credential{}, err
	}
	cred.SignCount = uint32(signCount)
	cred.CreatedAt = createdAt.UTC()
	return cred, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
