package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"

	"github.com/linnemanlabs/crisisconnect/internal/triage"
)

// Store backends selectable at startup.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds the application-level settings. Listener, logging, tracing
// and profiling settings live in their own go-core Config structs.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	SQLitePath            string
	AllowedOrigins        string
	AdminToken            string
	SlackWebhookURL       string
	NotifyUrgency         string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 5000, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = no postgres)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file (empty = no sqlite; neither set = in-memory store)")
	fs.StringVar(&c.AllowedOrigins, "allowed-origins", "*", "comma-separated CORS origins allowed to call the API")
	fs.StringVar(&c.AdminToken, "admin-token", "", "bearer token required for status/urgency updates (empty = open)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for the coordinator feed (empty = disabled)")
	fs.StringVar(&c.NotifyUrgency, "notify-urgency", string(triage.UrgencyUrgent), "minimum urgency posted to the coordinator feed (critical|urgent|request|low)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// At most one persistent backend
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}

	if len(c.Origins()) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS must list at least one origin"))
	}

	if c.SlackWebhookURL != "" {
		u, err := url.Parse(c.SlackWebhookURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, errors.New("SLACK_WEBHOOK_URL must be an absolute http(s) URL"))
		}
	}

	if !triage.Urgency(c.NotifyUrgency).Valid() {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_URGENCY %q (must be critical, urgent, request or low)", c.NotifyUrgency))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Origins splits AllowedOrigins into its non-empty entries.
func (c *Config) Origins() []string {
	var out []string
	for o := range strings.SplitSeq(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// StoreKind reports which Store backend the configuration selects.
func (c *Config) StoreKind() string {
	switch {
	case c.DatabaseURL != "":
		return StorePostgres
	case c.SQLitePath != "":
		return StoreSQLite
	default:
		return StoreMemory
	}
}
