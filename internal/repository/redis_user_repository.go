package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/iliyamo/authgate/internal/model"
)

// insertScript checks both uniqueness indexes and writes the user in one
// step. Redis runs scripts without interleaving other commands, which makes
// the check-and-insert atomic.
//
// KEYS[1] username index, KEYS[2] email index, KEYS[3] id sequence.
// ARGV[1] key prefix, ARGV[2] username, ARGV[3] email, ARGV[4] password
// hash, ARGV[5] created_at (unix seconds).
// Returns the new id, or 0 when the username or email is taken.
var insertScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
		return 0
	end
	local id = redis.call('INCR', KEYS[3])
	local sid = tostring(id)
	redis.call('HSET', ARGV[1] .. ':user:' .. sid,
		'id', sid,
		'username', ARGV[2],
		'email', ARGV[3],
		'password_hash', ARGV[4],
		'created_at', ARGV[5])
	redis.call('SET', KEYS[1], sid)
	redis.call('SET', KEYS[2], sid)
	return id
`)

// RedisUserRepo is a credential store kept in Redis. Each user is a hash
// under <prefix>:user:<id>; <prefix>:username:<name> and <prefix>:email:<email>
// map the unique fields to the id.
type RedisUserRepo struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisUserRepo(rdb *redis.Client, prefix string) *RedisUserRepo {
	if prefix == "" {
		prefix = "authgate"
	}
	return &RedisUserRepo{rdb: rdb, prefix: prefix}
}

func (r *RedisUserRepo) usernameKey(username string) string {
	return r.prefix + ":username:" + username
}

func (r *RedisUserRepo) emailKey(email string) string {
	return r.prefix + ":email:" + email
}

func (r *RedisUserRepo) seqKey() string {
	return r.prefix + ":user_seq"
}

func (r *RedisUserRepo) userKey(id string) string {
	return r.prefix + ":user:" + id
}

// FindByUsernameOrEmail returns any user holding the username or the email.
func (r *RedisUserRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	u, err := r.findByIndex(ctx, r.usernameKey(username))
	if !errors.Is(err, ErrNotFound) {
		return u, err
	}
	return r.findByIndex(ctx, r.emailKey(email))
}

// FindByEmail fetches a user by normalized email.
func (r *RedisUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findByIndex(ctx, r.emailKey(email))
}

// Insert stores a user and returns its ID, or ErrDuplicate when the username
// or email is already indexed.
func (r *RedisUserRepo) Insert(ctx context.Context, username, email, passwordHash string) (uint64, error) {
	keys := []string{r.usernameKey(username), r.emailKey(email), r.seqKey()}
	id, err := insertScript.Run(ctx, r.rdb, keys,
		r.prefix, username, email, passwordHash, time.Now().UTC().Unix()).Int64()
	if err != nil {
		return 0, oops.Code("USER_INSERT_FAILED").
			With("operation", "redis insert script").
			Wrap(err)
	}
	if id == 0 {
		return 0, ErrDuplicate
	}
	return uint64(id), nil
}

func (r *RedisUserRepo) findByIndex(ctx context.Context, indexKey string) (*model.User, error) {
	id, err := r.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "get index").
			With("key", indexKey).
			Wrap(err)
	}

	fields, err := r.rdb.HGetAll(ctx, r.userKey(id)).Result()
	if err != nil {
		return nil, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "get user").
			With("id", id).
			Wrap(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return userFromHash(fields)
}

func userFromHash(fields map[string]string) (*model.User, error) {
	id, err := strconv.ParseUint(fields["id"], 10, 64)
	if err != nil {
		return nil, oops.Code("USER_DECODE_FAILED").With("field", "id").Wrap(err)
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, oops.Code("USER_DECODE_FAILED").With("field", "created_at").Wrap(err)
	}
	return &model.User{
		ID:           id,
		Username:     fields["username"],
		Email:        fields["email"],
		PasswordHash: fields["password_hash"],
		CreatedAt:    time.Unix(created, 0).UTC(),
	}, nil
}
