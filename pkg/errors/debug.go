package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ErrorDump flattens an error chain and any driver detail into log fields.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`
	Driver     string   `json:"driver,omitempty"`
	SQLState   string   `json:"sql_state,omitempty"`
	Constraint string   `json:"constraint,omitempty"`
	Table      string   `json:"table,omitempty"`
	Column     string   `json:"column,omitempty"`
	Detail     string   `json:"detail,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.fillDriver(err)
	return d
}

func (d *ErrorDump) fillDriver(err error) {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		d.Driver, d.SQLState = "pgx", pgxErr.Code
		d.Constraint, d.Table, d.Column = pgxErr.ConstraintName, pgxErr.TableName, pgxErr.ColumnName
		d.Detail = firstNonEmpty(pgxErr.Detail, pgxErr.Message)
		return
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		d.Driver, d.SQLState = "pq", string(pqErr.Code)
		d.Constraint, d.Table, d.Column = pqErr.Constraint, pqErr.Table, pqErr.Column
		d.Detail = firstNonEmpty(pqErr.Detail, pqErr.Message)
		return
	}
	var liteErr sqlite3.Error
	if stdErrors.As(err, &liteErr) {
		d.Driver = "sqlite3"
		d.SQLState = fmt.Sprintf("%d/%d", int(liteErr.Code), int(liteErr.ExtendedCode))
		d.Detail = liteErr.Error()
	}
}

// Fields renders the dump for structured logging, omitting empty values.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{"error": d.TopMessage}
	add := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	add("error_code", string(d.Code))
	add("db_driver", d.Driver)
	add("db_state", d.SQLState)
	add("db_constraint", d.Constraint)
	add("db_table", d.Table)
	add("db_column", d.Column)
	add("db_detail", d.Detail)
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	return fields
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
