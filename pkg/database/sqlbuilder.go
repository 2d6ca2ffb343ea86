package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

func Excluded(column string) string {
	return fmt.Sprintf("%s = EXCLUDED.%s", column, column)
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder(table string, cols ...string) *InsertBuilder {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(cols...)
	return &InsertBuilder{ib}
}

// OnConflictDoNothing appends a conflict clause that skips rows violating any unique constraint.
func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}

// OnConflictUpdate appends an upsert clause replacing the listed columns with the excluded values.
func (b *InsertBuilder) OnConflictUpdate(conflict []string, update ...string) *InsertBuilder {
	sets := make([]string, 0, len(update))
	for _, col := range update {
		sets = append(sets, Excluded(col))
	}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(sets, ", ")))
	return b
}
