// Package connstring parses and formats database connection strings,
// ported from original_source/crates/core/src/connector/connection_string.rs.
package connstring

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// PostgresConnectionString is a parsed postgres:// URL.
type PostgresConnectionString struct {
	User     string // empty means absent
	Password string // empty means absent
	Host     string
	Port     uint16 // 0 means absent
	DBName   string // empty means absent
	Options  []KV
}

// KV is one query-parameter pair, kept in URL order (matches the Rust
// original's Vec<(String, String)> rather than a map, since duplicate keys
// and order are both observable in the output format).
type KV struct {
	Key   string
	Value string
}

// Scheme is the URL scheme PostgresConnectionString accepts.
const Scheme = "postgres"

// ParsePostgres parses a postgres:// or postgresql:// connection string.
func ParsePostgres(connectionString string) (PostgresConnectionString, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return PostgresConnectionString{}, oxyerr.New(oxyerr.ConfigurationError, "invalid URL: %s", err)
	}

	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return PostgresConnectionString{}, oxyerr.New(oxyerr.ConfigurationError, "unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return PostgresConnectionString{}, oxyerr.New(oxyerr.ConfigurationError, "missing host in connection string")
	}

	var port uint16
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return PostgresConnectionString{}, oxyerr.New(oxyerr.ConfigurationError, "invalid port: %s", err)
		}
		port = uint16(n)
	}

	user := ""
	password := ""
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}

	dbname := ""
	if path := u.Path; path != "" && path != "/" {
		dbname = path[1:]
	}

	options, err := parseQueryPairs(u.RawQuery)
	if err != nil {
		return PostgresConnectionString{}, oxyerr.New(oxyerr.ConfigurationError, "invalid query parameters: %s", err)
	}

	return PostgresConnectionString{
		User:     user,
		Password: password,
		Host:     host,
		Port:     port,
		DBName:   dbname,
		Options:  options,
	}, nil
}

// parseQueryPairs splits a raw query string into ordered key/value pairs.
// url.Values is a map and loses arrival order; connection-string formatting
// is order-sensitive, so this walks the raw string directly instead.
func parseQueryPairs(rawQuery string) ([]KV, error) {
	if rawQuery == "" {
		return nil, nil
	}
	var out []KV
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			return nil, err
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return nil, err
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out, nil
}

// ToDuckDBFormat renders the connection string for DuckDB's postgres
// extension attach syntax.
func (c PostgresConnectionString) ToDuckDBFormat() string {
	var parts []string
	if c.User != "" {
		parts = append(parts, "user="+c.User)
	}
	if c.Password != "" {
		parts = append(parts, "password="+c.Password)
	}
	parts = append(parts, "host="+c.Host)
	if c.Port != 0 {
		parts = append(parts, "port="+strconv.FormatUint(uint64(c.Port), 10))
	}
	if c.DBName != "" {
		parts = append(parts, "dbname="+c.DBName)
	}
	for _, kv := range c.Options {
		parts = append(parts, kv.Key+"="+kv.Value)
	}

	return "postgres:" + strings.Join(parts, " ")
}
