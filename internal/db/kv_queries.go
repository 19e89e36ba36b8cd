package db

import (
	"context"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"horse.fit/leadscan/internal/kv"
)

const (
	stringsTable = "leadscan.kv_strings"
	zsetTable    = "leadscan.kv_zset_members"
	listTable    = "leadscan.kv_list_items"
)

// KVStore implements kv.Store on postgres. Statements are built with squirrel
// using '?' placeholders, which gorm rebinds for the driver.
type KVStore struct {
	pool *Pool
	db   *gorm.DB
	now  func() time.Time
}

var _ kv.Store = (*KVStore)(nil)

func NewKVStore(pool *Pool) *KVStore {
	return &KVStore{pool: pool, db: pool.GORM(), now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (s *KVStore) WithClock(now func() time.Time) *KVStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *KVStore) exec(ctx context.Context, db *gorm.DB, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	res := db.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, res.Error
}

func (s *KVStore) scan(ctx context.Context, db *gorm.DB, b sq.Sqlizer, dest any) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return db.WithContext(ctx).Raw(query, args...).Scan(dest).Error
}

func (s *KVStore) count(ctx context.Context, db *gorm.DB, b sq.SelectBuilder) (int64, error) {
	var n int64
	if err := s.scan(ctx, db, b, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// lockKey serializes list mutations on one key for the rest of the transaction.
func lockKey(tx *gorm.DB, key string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}

// live matches string rows that have not expired at now.
func live(now time.Time) sq.Sqlizer {
	return sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": now}}
}

func (s *KVStore) expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	at := s.now().Add(ttl).UTC()
	return &at
}

func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	q := sq.Select("value").From(stringsTable).
		Where(sq.Eq{"key": key}).
		Where(live(s.now())).
		Limit(1)
	var values []string
	if err := s.scan(ctx, s.db, q, &values); err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	if len(values) == 0 {
		return "", kv.ErrNil
	}
	return values[0], nil
}

func (s *KVStore) upsertString(key, value string, ttl time.Duration, suffix string) sq.InsertBuilder {
	return sq.Insert(stringsTable).
		Columns("key", "value", "expires_at", "updated_at").
		Values(key, value, s.expiry(ttl), s.now().UTC()).
		Suffix(suffix)
}

func (s *KVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	q := s.upsertString(key, value, ttl,
		"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at")
	if _, err := s.exec(ctx, s.db, q); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var claimed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := sq.Delete(stringsTable).
			Where(sq.Eq{"key": key}).
			Where(sq.LtOrEq{"expires_at": s.now()})
		if _, err := s.exec(ctx, tx, expired); err != nil {
			return err
		}
		n, err := s.exec(ctx, tx, s.upsertString(key, value, ttl, "ON CONFLICT (key) DO NOTHING"))
		if err != nil {
			return err
		}
		claimed = n == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return claimed, nil
}

// Del removes keys of every type and reports how many existed.
func (s *KVStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		n, err := s.exec(ctx, tx, sq.Delete(stringsTable).Where(sq.Eq{"key": keys}).Where(live(now)))
		if err != nil {
			return err
		}
		removed += n
		if _, err := s.exec(ctx, tx, sq.Delete(stringsTable).Where(sq.Eq{"key": keys})); err != nil {
			return err
		}

		for _, table := range []string{zsetTable, listTable} {
			n, err := s.count(ctx, tx, sq.Select("COUNT(DISTINCT key)").From(table).Where(sq.Eq{"key": keys}))
			if err != nil {
				return err
			}
			removed += n
			if _, err := s.exec(ctx, tx, sq.Delete(table).Where(sq.Eq{"key": keys})); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("del: %w", err)
	}
	return removed, nil
}

func (s *KVStore) Exists(ctx context.Context, key string) (bool, error) {
	probes := []sq.SelectBuilder{
		sq.Select("1").From(stringsTable).Where(sq.Eq{"key": key}).Where(live(s.now())).Limit(1),
		sq.Select("1").From(zsetTable).Where(sq.Eq{"key": key}).Limit(1),
		sq.Select("1").From(listTable).Where(sq.Eq{"key": key}).Limit(1),
	}
	for _, probe := range probes {
		var hits []int
		if err := s.scan(ctx, s.db, probe, &hits); err != nil {
			return false, fmt.Errorf("exists %s: %w", key, err)
		}
		if len(hits) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *KVStore) ZAdd(ctx context.Context, key string, members ...kv.Z) error {
	if len(members) == 0 {
		return nil
	}
	q := sq.Insert(zsetTable).Columns("key", "member", "score")
	for _, m := range members {
		q = q.Values(key, m.Member, m.Score)
	}
	q = q.Suffix("ON CONFLICT (key, member) DO UPDATE SET score = EXCLUDED.score")
	if _, err := s.exec(ctx, s.db, q); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	q := sq.Delete(zsetTable).Where(sq.Eq{"key": key, "member": members})
	if _, err := s.exec(ctx, s.db, q); err != nil {
		return fmt.Errorf("zrem %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) ZScore(ctx context.Context, key, member string) (float64, error) {
	q := sq.Select("score").From(zsetTable).Where(sq.Eq{"key": key, "member": member})
	var scores []float64
	if err := s.scan(ctx, s.db, q, &scores); err != nil {
		return 0, fmt.Errorf("zscore %s: %w", key, err)
	}
	if len(scores) == 0 {
		return 0, kv.ErrNil
	}
	return scores[0], nil
}

func (s *KVStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.count(ctx, s.db, sq.Select("COUNT(*)").From(zsetTable).Where(sq.Eq{"key": key}))
	if err != nil {
		return 0, fmt.Errorf("zcard %s: %w", key, err)
	}
	return n, nil
}

func (s *KVStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	n, err := s.ZCard(ctx, key)
	if err != nil {
		return nil, err
	}
	from, to := kv.NormalizeRange(start, stop, n)
	if from >= to {
		return []string{}, nil
	}
	q := sq.Select("member").From(zsetTable).
		Where(sq.Eq{"key": key}).
		OrderBy("score DESC", "member DESC").
		Offset(uint64(from)).
		Limit(uint64(to - from))
	var members []string
	if err := s.scan(ctx, s.db, q, &members); err != nil {
		return nil, fmt.Errorf("zrevrange %s: %w", key, err)
	}
	return members, nil
}

// scoreRange matches members of key with min <= score <= max. Infinite bounds
// are left out of the predicate.
func scoreRange(key string, min, max float64) sq.And {
	cond := sq.And{sq.Eq{"key": key}}
	if !math.IsInf(min, -1) {
		cond = append(cond, sq.GtOrEq{"score": min})
	}
	if !math.IsInf(max, 1) {
		cond = append(cond, sq.LtOrEq{"score": max})
	}
	return cond
}

func (s *KVStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]kv.Z, error) {
	q := sq.Select("member", "score").From(zsetTable).
		Where(scoreRange(key, min, max)).
		OrderBy("score ASC", "member ASC")
	var rows []KVZMember
	if err := s.scan(ctx, s.db, q, &rows); err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	out := make([]kv.Z, 0, len(rows))
	for _, row := range rows {
		out = append(out, kv.Z{Score: row.Score, Member: row.Member})
	}
	return out, nil
}

func (s *KVStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := s.exec(ctx, s.db, sq.Delete(zsetTable).Where(scoreRange(key, min, max)))
	if err != nil {
		return 0, fmt.Errorf("zremrangebyscore %s: %w", key, err)
	}
	return n, nil
}

func (s *KVStore) push(ctx context.Context, key string, values []string, head bool) (int64, error) {
	var length int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockKey(tx, key); err != nil {
			return err
		}
		edge := "COALESCE(MAX(position), 0)"
		step := int64(1)
		if head {
			edge = "COALESCE(MIN(position), 0)"
			step = -1
		}
		pos, err := s.count(ctx, tx, sq.Select(edge).From(listTable).Where(sq.Eq{"key": key}))
		if err != nil {
			return err
		}
		if len(values) > 0 {
			q := sq.Insert(listTable).Columns("key", "position", "value")
			for _, v := range values {
				pos += step
				q = q.Values(key, pos, v)
			}
			if _, err := s.exec(ctx, tx, q); err != nil {
				return err
			}
		}
		length, err = s.count(ctx, tx, sq.Select("COUNT(*)").From(listTable).Where(sq.Eq{"key": key}))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("push %s: %w", key, err)
	}
	return length, nil
}

func (s *KVStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	return s.push(ctx, key, values, true)
}

func (s *KVStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	return s.push(ctx, key, values, false)
}

// LPop removes the head in one statement; concurrent poppers skip rows another
// transaction already holds.
func (s *KVStore) LPop(ctx context.Context, key string) (string, error) {
	head, headArgs, err := sq.Select("item_id").From(listTable).
		Where(sq.Eq{"key": key}).
		OrderBy("position ASC", "item_id ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build lpop: %w", err)
	}
	q := sq.Delete(listTable).
		Where("item_id = ("+head+")", headArgs...).
		Suffix("RETURNING value")
	var values []string
	if err := s.scan(ctx, s.db, q, &values); err != nil {
		return "", fmt.Errorf("lpop %s: %w", key, err)
	}
	if len(values) == 0 {
		return "", kv.ErrNil
	}
	return values[0], nil
}

func (s *KVStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	n, err := s.LLen(ctx, key)
	if err != nil {
		return nil, err
	}
	from, to := kv.NormalizeRange(start, stop, n)
	if from >= to {
		return []string{}, nil
	}
	q := sq.Select("value").From(listTable).
		Where(sq.Eq{"key": key}).
		OrderBy("position ASC", "item_id ASC").
		Offset(uint64(from)).
		Limit(uint64(to - from))
	var values []string
	if err := s.scan(ctx, s.db, q, &values); err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return values, nil
}

func (s *KVStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockKey(tx, key); err != nil {
			return err
		}
		n, err := s.count(ctx, tx, sq.Select("COUNT(*)").From(listTable).Where(sq.Eq{"key": key}))
		if err != nil {
			return err
		}
		from, to := kv.NormalizeRange(start, stop, n)
		if from >= to {
			_, err := s.exec(ctx, tx, sq.Delete(listTable).Where(sq.Eq{"key": key}))
			return err
		}
		var keep []int64
		window := sq.Select("item_id").From(listTable).
			Where(sq.Eq{"key": key}).
			OrderBy("position ASC", "item_id ASC").
			Offset(uint64(from)).
			Limit(uint64(to - from))
		if err := s.scan(ctx, tx, window, &keep); err != nil {
			return err
		}
		_, err = s.exec(ctx, tx, sq.Delete(listTable).Where(sq.Eq{"key": key}).Where(sq.NotEq{"item_id": keep}))
		return err
	})
	if err != nil {
		return fmt.Errorf("ltrim %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.count(ctx, s.db, sq.Select("COUNT(*)").From(listTable).Where(sq.Eq{"key": key}))
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

// PurgeExpired deletes string rows past their expiry. Reads already ignore
// them; this only reclaims space.
func (s *KVStore) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.exec(ctx, s.db, sq.Delete(stringsTable).Where(sq.LtOrEq{"expires_at": s.now()}))
	if err != nil {
		return 0, fmt.Errorf("purge expired keys: %w", err)
	}
	return n, nil
}

func (s *KVStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *KVStore) Close() error {
	return s.pool.Close()
}
