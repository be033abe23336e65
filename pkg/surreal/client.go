package surreal

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

type Client struct {
	db *surrealdb.DB
}

// identifierRegex ensures that table names and fields only contain alphanumeric characters and underscores
var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validateIdentifier(s string) error {
	if !identifierRegex.MatchString(s) {
		return fmt.Errorf("invalid identifier: %s", s)
	}
	return nil
}

// ValidateIdentifier reports whether s is safe to splice into a query as a
// table or field name.
func ValidateIdentifier(s string) error {
	return validateIdentifier(s)
}

func NewClient(ctx context.Context, host, user, pass, namespace, database string) (*Client, error) {
	db, err := surrealdb.New(host)
	if err != nil {
		return nil, fmt.Errorf("failed to create surrealdb client: %w", err)
	}

	if _, err = db.SignIn(ctx, map[string]interface{}{
		"user": user,
		"pass": pass,
	}); err != nil {
		return nil, fmt.Errorf("failed to signin to surrealdb: %w", err)
	}

	if err = db.Use(ctx, namespace, database); err != nil {
		return nil, fmt.Errorf("failed to use surrealdb namespace/database: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close(ctx context.Context) {
	c.db.Close(ctx)
}

// Query runs sql and returns the result of its last statement.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]interface{}) (interface{}, error) {
	result, err := surrealdb.Query[interface{}](ctx, c.db, sql, vars)
	if err != nil {
		return nil, err
	}
	return lastResult(result)
}

// Rows runs sql and returns the rows of its last statement.
func (c *Client) Rows(ctx context.Context, sql string, vars map[string]interface{}) ([]interface{}, error) {
	result, err := c.Query(ctx, sql, vars)
	if err != nil {
		return nil, err
	}
	return rowsOf(result)
}

// lastResult unwraps *[]QueryResult down to the Result field of the final
// statement, failing if that statement reported an error status.
func lastResult(result interface{}) (interface{}, error) {
	rv := reflect.ValueOf(result)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	if rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return nil, nil
		}
		rv = rv.Index(rv.Len() - 1)
	}

	if rv.Kind() != reflect.Struct {
		return result, nil
	}

	if status := rv.FieldByName("Status"); status.IsValid() && status.Kind() == reflect.String && status.String() == "ERR" {
		return nil, fmt.Errorf("surrealdb statement failed: %v", rv.FieldByName("Result").Interface())
	}
	if resField := rv.FieldByName("Result"); resField.IsValid() {
		return resField.Interface(), nil
	}
	return result, nil
}

func rowsOf(result interface{}) ([]interface{}, error) {
	switch v := result.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected result type: %T", result)
	}
}

// NormalizeHost turns a bare host into the websocket RPC endpoint.
func NormalizeHost(host string) string {
	if strings.HasPrefix(host, "ws://") || strings.HasPrefix(host, "wss://") ||
		strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "wss://" + host + "/rpc"
}
