package db

import "time"

// KVString maps leadscan.kv_strings. A NULL expiry never expires.
type KVString struct {
	Key       string     `gorm:"column:key;type:text;primaryKey"`
	Value     string     `gorm:"column:value;type:text;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at;type:timestamptz;index:kv_strings_expires_at_idx"`
	UpdatedAt time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (KVString) TableName() string { return "leadscan.kv_strings" }

// KVZMember maps leadscan.kv_zset_members.
type KVZMember struct {
	Key    string  `gorm:"column:key;type:text;primaryKey;index:kv_zset_key_score_idx,priority:1"`
	Member string  `gorm:"column:member;type:text;primaryKey"`
	Score  float64 `gorm:"column:score;type:double precision;not null;index:kv_zset_key_score_idx,priority:2"`
}

func (KVZMember) TableName() string { return "leadscan.kv_zset_members" }

// KVListItem maps leadscan.kv_list_items. Position orders a list; LPUSH takes
// positions below the current head and RPUSH above the current tail.
type KVListItem struct {
	ItemID   int64  `gorm:"column:item_id;primaryKey;autoIncrement"`
	Key      string `gorm:"column:key;type:text;not null;index:kv_list_key_position_idx,priority:1"`
	Position int64  `gorm:"column:position;type:bigint;not null;index:kv_list_key_position_idx,priority:2"`
	Value    string `gorm:"column:value;type:text;not null"`
}

func (KVListItem) TableName() string { return "leadscan.kv_list_items" }

func autoMigrateModels() []any {
	return []any{
		&KVString{},
		&KVZMember{},
		&KVListItem{},
	}
}
