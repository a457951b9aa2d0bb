// Package database opens the relational connection pools listed under
// database.servers. MySQL, PostgreSQL, SQLite and ClickHouse are supported.
package database

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"backbone/config"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// ErrUnsupportedDriver is returned for a database.servers entry with an unknown driver
var ErrUnsupportedDriver = errors.New("unsupported database driver")

const (
	DriverMySQL      = "mysql"
	DriverPostgres   = "postgres"
	DriverSQLite     = "sqlite"
	DriverClickHouse = "clickhouse"
)

var defaultPorts = map[string]int{
	DriverMySQL:      3306,
	DriverPostgres:   5432,
	DriverClickHouse: 9000,
}

const dialTimeout = 10 * time.Second

// Pool is an open connection pool for one database server. Postgres servers are
// served by PG, every other driver by SQL.
type Pool struct {
	Name   string
	Server config.DatabaseServer
	Driver string
	Addr   string

	SQL *sql.DB
	PG  *pgxpool.Pool
}

// Ping checks that a connection can be acquired.
func (p *Pool) Ping(ctx context.Context) error {
	if p.PG != nil {
		return p.PG.Ping(ctx)
	}
	return p.SQL.PingContext(ctx)
}

// Close releases every connection of the pool.
func (p *Pool) Close() error {
	if p.PG != nil {
		p.PG.Close()
		return nil
	}
	return p.SQL.Close()
}

// Open creates the pool for server. No connection is made until Ping or the first query.
func Open(ctx context.Context, cfg *config.Config, server config.DatabaseServer) (*Pool, error) {
	limit := cfg.Database.ConnectionLimit
	if limit <= 0 {
		limit = 5
	}

	tlsConfig, err := tlsConfigFor(server)
	if err != nil {
		return nil, fmt.Errorf("database %s: %w", server.DisplayName(), err)
	}

	pool := &Pool{
		Name:   server.Server,
		Server: server,
		Driver: server.Driver,
		Addr:   serverAddr(cfg, server),
	}

	switch server.Driver {
	case DriverMySQL:
		mysqlCfg, err := mysqlConfig(server, pool.Addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", server.DisplayName(), err)
		}
		connector, err := mysql.NewConnector(mysqlCfg)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", server.DisplayName(), err)
		}
		pool.SQL = sql.OpenDB(connector)
		pool.SQL.SetMaxOpenConns(limit)

	case DriverPostgres:
		pgCfg, err := postgresConfig(server, pool.Addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", server.DisplayName(), err)
		}
		pgCfg.MaxConns = int32(limit)
		pool.PG, err = pgxpool.NewWithConfig(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("database %s: failed to create pool: %w", server.DisplayName(), err)
		}

	case DriverSQLite:
		pool.Addr = server.Database
		pool.SQL, err = sql.Open("sqlite", server.Database)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", server.DisplayName(), err)
		}
		if server.Database == ":memory:" {
			// every connection would otherwise see its own empty database
			limit = 1
		}
		pool.SQL.SetMaxOpenConns(limit)

	case DriverClickHouse:
		pool.SQL = clickhouse.OpenDB(&clickhouse.Options{
			Addr: []string{pool.Addr},
			Auth: clickhouse.Auth{
				Database: server.Database,
				Username: server.User,
				Password: server.Password,
			},
			TLS:          tlsConfig,
			DialTimeout:  dialTimeout,
			MaxOpenConns: limit,
			MaxIdleConns: limit,
		})

	default:
		return nil, fmt.Errorf("database %s: %w: %q", server.DisplayName(), ErrUnsupportedDriver, server.Driver)
	}

	return pool, nil
}

// serverAddr applies the local_database.port override and the driver's default port.
func serverAddr(cfg *config.Config, server config.DatabaseServer) string {
	port := server.Port
	if cfg.LocalDatabase.Port != 0 {
		port = cfg.LocalDatabase.Port
	}
	if port == 0 {
		port = defaultPorts[server.Driver]
	}
	host := server.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func tlsConfigFor(server config.DatabaseServer) (*tls.Config, error) {
	if !server.SSL.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         server.SSL.ServerName,
		InsecureSkipVerify: server.SSL.InsecureSkipVerify,
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = server.Host
	}

	if server.SSL.CAFile != "" {
		data, err := os.ReadFile(server.SSL.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("ca file %s: %w", server.SSL.CAFile, ErrNoCertificates)
		}
		tlsConfig.RootCAs = roots
	}
	return tlsConfig, nil
}

func mysqlConfig(server config.DatabaseServer, addr string, tlsConfig *tls.Config) (*mysql.Config, error) {
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = addr
	c.User = server.User
	c.Passwd = server.Password
	c.DBName = server.Database
	c.MultiStatements = true
	c.ParseTime = true
	c.Timeout = dialTimeout

	loc, err := location(server.Timezone)
	if err != nil {
		return nil, err
	}
	c.Loc = loc

	if tlsConfig != nil {
		name := "backbone-" + server.Server
		if err := mysql.RegisterTLSConfig(name, tlsConfig); err != nil {
			return nil, fmt.Errorf("register tls config: %w", err)
		}
		c.TLSConfig = name
	}
	return c, nil
}

func postgresConfig(server config.DatabaseServer, addr string, tlsConfig *tls.Config) (*pgxpool.Config, error) {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(server.User, server.Password),
		Host:   addr,
		Path:   "/" + server.Database,
	}
	q := url.Values{}
	if tlsConfig != nil {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	q.Set("connect_timeout", strconv.Itoa(int(dialTimeout.Seconds())))
	u.RawQuery = q.Encode()

	pgCfg, err := pgxpool.ParseConfig(u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgresql config: %w", err)
	}
	if tlsConfig != nil {
		pgCfg.ConnConfig.TLSConfig = tlsConfig
	}
	if server.Timezone != "" {
		pgCfg.ConnConfig.RuntimeParams["timezone"] = server.Timezone
	}
	return pgCfg, nil
}

// location parses the timezone setting. Offsets like "+01:00" and "Z" are accepted
// as well as IANA names.
func location(tz string) (*time.Location, error) {
	switch strings.ToLower(tz) {
	case "", "utc", "z":
		return time.UTC, nil
	case "local":
		return time.Local, nil
	}

	if t, err := time.Parse("-07:00", tz); err == nil {
		_, offset := t.Zone()
		return time.FixedZone(tz, offset), nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}
