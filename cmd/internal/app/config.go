package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/zevanoo/baileys-ez/cmd/internal/gateway"
	"github.com/zevanoo/baileys-ez/session"
)

// Archive backends.
const (
	ArchiveMemory   = "memory"
	ArchiveSQLite   = "sqlite"
	ArchivePostgres = "postgres"
	ArchiveOff      = "off"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	SessionDir        string
	ExtraSessionDirs  []string
	ClientsFile       string
	BridgeURL         string
	BridgeToken       string
	Prefixes          []string
	MaxQuoteDepth     int
	PairingCode       string
	KeyPairCheck      bool
	CleanOnStart      bool
	WatchSessions     bool
	WatchDebounce     time.Duration
	Reconnect         bool
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	ConnectOnStart    bool

	Archive     string
	SQLitePath  string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true, /readyz returns 503 while the archive is disabled or unreachable.
	ReadinessRequireArchive bool

	Gateway gateway.Config
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("EZWA_HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:  EnvString("EZWA_LOG_LEVEL", "info"),
		LogFormat: EnvString("EZWA_LOG_FORMAT", "pretty"),

		ReadHeaderTimeout: EnvDuration("EZWA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("EZWA_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("EZWA_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("EZWA_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("EZWA_HTTP_MAX_HEADER_BYTES", 1<<20),

		SessionDir:        EnvString("EZWA_SESSION_DIR", session.DefaultFolder),
		ExtraSessionDirs:  EnvCSV("EZWA_EXTRA_SESSION_DIRS", ""),
		ClientsFile:       EnvString("EZWA_CLIENTS_FILE", ""),
		BridgeURL:         EnvString("EZWA_BRIDGE_URL", ""),
		BridgeToken:       EnvString("EZWA_BRIDGE_TOKEN", ""),
		Prefixes:          EnvCSV("EZWA_PREFIXES", ""),
		MaxQuoteDepth:     EnvInt("EZWA_MAX_QUOTE_DEPTH", 0),
		PairingCode:       EnvString("EZWA_PAIRING_CODE", ""),
		KeyPairCheck:      EnvBool("EZWA_KEYPAIR_CHECK", false),
		CleanOnStart:      EnvBool("EZWA_CLEAN_ON_START", true),
		WatchSessions:     EnvBool("EZWA_WATCH_SESSIONS", true),
		WatchDebounce:     EnvDuration("EZWA_WATCH_DEBOUNCE", 250*time.Millisecond),
		Reconnect:         EnvBool("EZWA_RECONNECT", true),
		ReconnectDelay:    EnvDuration("EZWA_RECONNECT_DELAY", 3*time.Second),
		ReconnectAttempts: EnvInt("EZWA_RECONNECT_ATTEMPTS", 0),
		ConnectOnStart:    EnvBool("EZWA_CONNECT_ON_START", true),

		Archive:     strings.ToLower(EnvString("EZWA_ARCHIVE", ArchiveMemory)),
		SQLitePath:  EnvString("EZWA_SQLITE_PATH", "ezwa-archive.db"),
		DatabaseURL: EnvString("EZWA_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("EZWA_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("EZWA_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("EZWA_DB_SCHEMA", "ezwa"),

		ReadinessRequireArchive: EnvBool("EZWA_READINESS_REQUIRE_ARCHIVE", false),

		Gateway: gateway.Config{
			OriginRequired:     EnvBool("EZWA_WS_ORIGIN_REQUIRED", gateway.DefaultOriginRequired),
			AllowedOrigins:     EnvCSV("EZWA_WS_ALLOWED_ORIGINS", gateway.DefaultAllowedOrigins),
			InsecureSkipVerify: EnvBool("EZWA_WS_DEV_INSECURE", false),
			Token:              EnvString("EZWA_WS_TOKEN", ""),
			WriteTimeout:       EnvDuration("EZWA_WS_WRITE_TIMEOUT", 0),
			ReadIdleTimeout:    EnvDuration("EZWA_WS_READ_IDLE_TIMEOUT", 0),
			SendTimeout:        EnvDuration("EZWA_WS_SEND_TIMEOUT", 0),
			SendQueueSize:      EnvInt("EZWA_WS_SEND_QUEUE", 0),
			HeartbeatEvery:     EnvDuration("EZWA_WS_HEARTBEAT_INTERVAL", 0),
			HeartbeatTimeout:   EnvDuration("EZWA_WS_HEARTBEAT_TIMEOUT", 0),
			RateEvents:         EnvInt("EZWA_WS_RATE_EVENTS", 0),
			RateWindow:         EnvDuration("EZWA_WS_RATE_WINDOW", 0),
		},
	}
}

// Validate reports configuration errors that would otherwise surface late.
func (c Config) Validate() error {
	switch c.Archive {
	case ArchiveMemory, ArchiveOff:
	case ArchiveSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("config: EZWA_SQLITE_PATH is required for archive %q", c.Archive)
		}
	case ArchivePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("config: EZWA_DATABASE_URL is required for archive %q", c.Archive)
		}
	default:
		return fmt.Errorf("config: unknown archive backend %q", c.Archive)
	}
	if strings.TrimSpace(c.SessionDir) == "" {
		return fmt.Errorf("config: empty session dir")
	}
	return nil
}
