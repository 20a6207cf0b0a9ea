package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/flowboard/internal/domain"
)

// tsLayout is fixed width so TEXT comparison matches time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type scanner interface {
	Scan(dest ...any) error
}

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func parseTS(v string) time.Time {
	t, err := time.Parse(tsLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTS(v.String)
	return &t
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func storageErr(err error, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), domain.ErrStorage, err)
}

func notFoundWrap(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrNotFound)
	}
	return storageErr(err, format, args...)
}
