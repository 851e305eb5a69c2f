package sqlite

import "github.com/jmoiron/sqlx"

func (s *KVStore) DB() *sqlx.DB { return s.db }
