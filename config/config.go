// Package config holds the plain configuration structs for every
// infrastructure concern the framework's backends need, populated from
// environment variables the way the teacher platform's
// internal/shared/config package does it — no flags or config-file
// library, since the teacher never reached for one either.
package config

import (
	"os"
	"strconv"
)

// EventStoreConfig configures a KurrentDB connection (eventstore/kurrentdb).
type EventStoreConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

// ConnectionString builds the esdb:// connection string KurrentDB's
// client expects.
func (c EventStoreConfig) ConnectionString() string {
	scheme := "esdb"
	tls := "true"
	if c.Insecure {
		tls = "false"
	}
	auth := ""
	if c.Username != "" {
		auth = c.Username + ":" + c.Password + "@"
	}
	return scheme + "://" + auth + c.Host + ":" + strconv.Itoa(c.Port) + "?tls=" + tls
}

func LoadEventStoreConfig() EventStoreConfig {
	return EventStoreConfig{
		Host:     getEnv("EVENTSTORE_HOST", "localhost"),
		Port:     getEnvInt("EVENTSTORE_PORT", 2113),
		Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
		Username: getEnv("EVENTSTORE_USERNAME", "admin"),
		Password: getEnv("EVENTSTORE_PASSWORD", "changeit"),
	}
}

// PostgresConfig configures the postgres-backed snapshot/idempotency/
// checkpoint/saga-state stores.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime int // minutes
	MaxConnIdleTime int // minutes
}

func LoadPostgresConfig() PostgresConfig {
	return PostgresConfig{
		DSN:             getEnv("POSTGRES_DSN", "postgres://localhost:5432/eventflow"),
		MaxConns:        int32(getEnvInt("POSTGRES_MAX_CONNS", 25)),
		MinConns:        int32(getEnvInt("POSTGRES_MIN_CONNS", 5)),
		MaxConnLifetime: getEnvInt("POSTGRES_MAX_CONN_LIFETIME_MIN", 60),
		MaxConnIdleTime: getEnvInt("POSTGRES_MAX_CONN_IDLE_MIN", 30),
	}
}

// MSSQLConfig configures the SQL Server-backed alternate idempotency +
// checkpoint store (mssqlstore).
type MSSQLConfig struct {
	DSN string
}

func LoadMSSQLConfig() MSSQLConfig {
	return MSSQLConfig{DSN: getEnv("MSSQL_DSN", "")}
}

// AuthConfig configures the command-bus JWT authentication middleware.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

func LoadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		Issuer:    getEnv("AUTH_ISSUER", "eventflow"),
	}
}

// TSAConfig configures the RFC 3161 witness used to timestamp processor
// checkpoints, adapted from the teacher's internal/tsa + audit
// checkpoint witness configuration.
type TSAConfig struct {
	Enabled  bool
	OrgName  string
	CertPath string
	KeyPath  string
}

func LoadTSAConfig() TSAConfig {
	return TSAConfig{
		Enabled:  getEnvBool("TSA_ENABLED", false),
		OrgName:  getEnv("TSA_ORG_NAME", "eventflow"),
		CertPath: getEnv("TSA_CERT_PATH", ""),
		KeyPath:  getEnv("TSA_KEY_PATH", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
