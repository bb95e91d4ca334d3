// Package availability parses availability service flags and launches the
// service.
package availability

import (
	"context"
	"flag"
	"path/filepath"
	"strings"
	"time"

	"github.com/libresocial/engine/internal/availability/app"
	entrypoint "github.com/libresocial/engine/internal/platform/cmd"
)

// Config holds availability command configuration.
type Config struct {
	HTTPAddr    string `env:"LIBRE_AVAILABILITY_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"LIBRE_AVAILABILITY_GRPC_ADDR" envDefault:":8081"`
	DBPath      string `env:"LIBRE_AVAILABILITY_DB_PATH"`
	InboxDBPath string `env:"LIBRE_AVAILABILITY_INBOX_DB_PATH"`
	TokenSecret string `env:"LIBRE_AVAILABILITY_TOKEN_SECRET"`
	TokenIssuer string `env:"LIBRE_AVAILABILITY_TOKEN_ISSUER" envDefault:"libresocial"`

	SweepIntervalSeconds int `env:"LIBRE_AVAILABILITY_SWEEP_INTERVAL_SECONDS"`
	InvitationTTLSeconds int `env:"LIBRE_AVAILABILITY_INVITATION_TTL_SECONDS"`
	SessionTTLSeconds    int `env:"LIBRE_AVAILABILITY_SESSION_TTL_SECONDS"`
	MaxRecipients        int `env:"LIBRE_AVAILABILITY_MAX_RECIPIENTS"`

	RateLimitRequests      int `env:"LIBRE_AVAILABILITY_RATE_LIMIT_REQUESTS"`
	RateLimitWindowSeconds int `env:"LIBRE_AVAILABILITY_RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The availability HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The availability gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the availability database file")
	fs.StringVar(&cfg.InboxDBPath, "inbox-db-path", cfg.InboxDBPath, "Path to the notification inbox database file")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "Shared secret for bearer token verification")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "availability.db")
	}
	if strings.TrimSpace(cfg.InboxDBPath) == "" {
		cfg.InboxDBPath = filepath.Join("data", "availability-inbox.db")
	}
	return cfg, nil
}

func (c Config) appConfig() app.Config {
	return app.Config{
		HTTPAddr:          c.HTTPAddr,
		GRPCAddr:          c.GRPCAddr,
		DBPath:            c.DBPath,
		InboxDBPath:       c.InboxDBPath,
		TokenSecret:       c.TokenSecret,
		TokenIssuer:       c.TokenIssuer,
		SweepInterval:     time.Duration(c.SweepIntervalSeconds) * time.Second,
		InvitationTTL:     time.Duration(c.InvitationTTLSeconds) * time.Second,
		SessionTTL:        time.Duration(c.SessionTTLSeconds) * time.Second,
		MaxRecipients:     c.MaxRecipients,
		RateLimitRequests: c.RateLimitRequests,
		RateLimitWindow:   time.Duration(c.RateLimitWindowSeconds) * time.Second,
	}
}

// Run starts the availability service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAvailability, func(ctx context.Context) error {
		return app.Run(ctx, cfg.appConfig())
	})
}
