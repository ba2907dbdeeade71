package utils

import (
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Returns a boolean indicating if the error is sqlite refusing a row
// because its key is already taken.
func IsUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
