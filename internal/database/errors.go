package database

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers the repositories branch on.
const (
	ErrCodeDuplicateKey    uint16 = 1062
	ErrCodeUnknownColumn   uint16 = 1054
	ErrCodeNoSuchTable     uint16 = 1146
	ErrCodeRowIsReferenced uint16 = 1451
)

func hasCode(err error, code uint16) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == code
	}
	return false
}

// IsDuplicateKey reports a unique constraint violation.
func IsDuplicateKey(err error) bool { return hasCode(err, ErrCodeDuplicateKey) }

// IsUnknownColumn reports a reference to a column the schema lacks.
func IsUnknownColumn(err error) bool { return hasCode(err, ErrCodeUnknownColumn) }

// IsNoSuchTable reports a reference to a missing table.
func IsNoSuchTable(err error) bool { return hasCode(err, ErrCodeNoSuchTable) }

// IsRowReferenced reports a delete blocked by a foreign key.
func IsRowReferenced(err error) bool { return hasCode(err, ErrCodeRowIsReferenced) }
