package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/samber/oops"

	"github.com/iliyamo/authgate/internal/model"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY, raised by the unique indexes on
// users.username and users.email.
const mysqlDuplicateEntry = 1062

const userColumns = "id,username,email,password_hash,created_at"

// UserRepo is the MySQL credential store.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// FindByUsernameOrEmail returns any user holding the username or the email.
func (r *UserRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username=? OR email=? LIMIT 1",
		username, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "find by username or email").
			Wrap(err)
	}
	return u, nil
}

// FindByEmail fetches a user by normalized email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1",
		email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "find by email").
			Wrap(err)
	}
	return u, nil
}

// Insert stores a user and returns its ID. The unique indexes make a
// concurrent duplicate fail here with ErrDuplicate.
func (r *UserRepo) Insert(ctx context.Context, username, email, passwordHash string) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash) VALUES (?,?,?)",
		username, email, passwordHash)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return 0, ErrDuplicate
		}
		return 0, oops.Code("USER_INSERT_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, oops.Code("USER_INSERT_FAILED").
			With("operation", "last insert id").
			Wrap(err)
	}
	return uint64(id), nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
