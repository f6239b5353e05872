package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for s42admin. It is built once in
// main and passed down; nothing below cmd/ reads the environment.
type Config struct {
	// Target database, discrete form.
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// DatabaseURL, when set, replaces the discrete fields above.
	DatabaseURL string

	// REST facade.
	SupabaseURL    string
	ServiceRoleKey string

	ConnectTimeout time.Duration
	SQLDir         string
	Schema         string
	TablePrefix    string
	HistoryDB      string

	LogLevel  string
	LogFormat string
}

// envBindings maps viper keys to the environment names they accept, in
// priority order.
var envBindings = map[string][]string{
	"db_host":          {"SUPABASE_DB_HOST"},
	"db_port":          {"SUPABASE_DB_PORT"},
	"db_name":          {"SUPABASE_DB_DATABASE", "SUPABASE_DB_NAME"},
	"db_user":          {"SUPABASE_DB_USER"},
	"db_password":      {"SUPABASE_DB_PASSWORD"},
	"db_sslmode":       {"SUPABASE_DB_SSLMODE"},
	"database_url":     {"DATABASE_URL"},
	"supabase_url":     {"SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL"},
	"service_role_key": {"SUPABASE_SERVICE_ROLE_KEY"},
	"connect_timeout":  {"S42ADMIN_CONNECT_TIMEOUT"},
	"sql_dir":          {"S42ADMIN_SQL_DIR"},
	"schema":           {"S42ADMIN_SCHEMA"},
	"table_prefix":     {"S42ADMIN_TABLE_PREFIX"},
	"history_db":       {"S42ADMIN_HISTORY_DB"},
	"log_level":        {"S42ADMIN_LOG_LEVEL"},
	"log_format":       {"S42ADMIN_LOG_FORMAT"},
}

// SetDefaults registers defaults and environment bindings on v. Flags are
// bound separately by the cobra command in cmd/s42admin.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "postgres")
	v.SetDefault("db_sslmode", "require")
	v.SetDefault("connect_timeout", 10*time.Second)
	v.SetDefault("sql_dir", "sql")
	v.SetDefault("schema", "public")
	v.SetDefault("table_prefix", "s42_")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	for key, envs := range envBindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set are left alone. A missing file is ignored
// unless explicit is true.
func LoadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return &Error{Msg: fmt.Sprintf(".env file not found at %s", path)}
	}
	if err := godotenv.Load(path); err != nil {
		return &Error{Msg: fmt.Sprintf("load %s: %v", path, err)}
	}
	return nil
}

// Load reads configuration from v, which merges flag values, env vars, and
// defaults.
func Load(v *viper.Viper) Config {
	return Config{
		DBHost:         v.GetString("db_host"),
		DBPort:         v.GetInt("db_port"),
		DBName:         v.GetString("db_name"),
		DBUser:         v.GetString("db_user"),
		DBPassword:     v.GetString("db_password"),
		DBSSLMode:      v.GetString("db_sslmode"),
		DatabaseURL:    v.GetString("database_url"),
		SupabaseURL:    strings.TrimRight(v.GetString("supabase_url"), "/"),
		ServiceRoleKey: v.GetString("service_role_key"),
		ConnectTimeout: v.GetDuration("connect_timeout"),
		SQLDir:         v.GetString("sql_dir"),
		Schema:         v.GetString("schema"),
		TablePrefix:    v.GetString("table_prefix"),
		HistoryDB:      v.GetString("history_db"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
	}
}

// Error reports missing or unusable configuration. It is always raised
// before any connection attempt.
type Error struct {
	Msg     string
	Missing []string
	Summary []string
}

func (e *Error) Error() string {
	if len(e.Missing) == 0 {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: missing required environment variables: %s", strings.Join(e.Missing, ", "))
}

// ValidateDatabase checks that the target database can be addressed.
func (c Config) ValidateDatabase() error {
	if c.DatabaseURL != "" {
		if _, err := url.Parse(c.DatabaseURL); err != nil {
			return &Error{Msg: fmt.Sprintf("DATABASE_URL is not a valid URL: %v", err)}
		}
		return nil
	}

	var missing []string
	if c.DBHost == "" {
		missing = append(missing, "SUPABASE_DB_HOST")
	}
	if c.DBPort <= 0 {
		missing = append(missing, "SUPABASE_DB_PORT")
	}
	if c.DBName == "" {
		missing = append(missing, "SUPABASE_DB_DATABASE")
	}
	if c.DBUser == "" {
		missing = append(missing, "SUPABASE_DB_USER")
	}
	if c.DBPassword == "" {
		missing = append(missing, "SUPABASE_DB_PASSWORD")
	}
	if len(missing) == 0 {
		return nil
	}
	return &Error{Missing: missing, Summary: c.databaseSummary()}
}

// ValidateREST checks that the REST facade can be addressed.
func (c Config) ValidateREST() error {
	var missing []string
	if c.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.ServiceRoleKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_ROLE_KEY")
	}
	if len(missing) == 0 {
		return nil
	}
	return &Error{Missing: missing}
}

func (c Config) databaseSummary() []string {
	return []string{
		"SUPABASE_DB_HOST: " + orNone(c.DBHost),
		"SUPABASE_DB_PORT: " + orNone(portString(c.DBPort)),
		"SUPABASE_DB_DATABASE: " + orNone(c.DBName),
		"SUPABASE_DB_USER: " + orNone(c.DBUser),
		"SUPABASE_DB_PASSWORD: " + mask(c.DBPassword),
	}
}

// DSN returns the connection string for the target database. DATABASE_URL
// wins when set; otherwise a postgres:// URL is built from the discrete
// fields with credentials escaped.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	if secs := int(c.ConnectTimeout / time.Second); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, portString(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Endpoint is a printable description of the target with no secrets.
func (c Config) Endpoint() string {
	if c.DatabaseURL != "" {
		u, err := url.Parse(c.DatabaseURL)
		if err != nil {
			return "DATABASE_URL"
		}
		return u.Redacted()
	}
	return fmt.Sprintf("%s@%s/%s", c.DBUser, net.JoinHostPort(c.DBHost, portString(c.DBPort)), c.DBName)
}

func portString(p int) string {
	if p <= 0 {
		return ""
	}
	return strconv.Itoa(p)
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func mask(s string) string {
	if s == "" {
		return "None"
	}
	return "***"
}
