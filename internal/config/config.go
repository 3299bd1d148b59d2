package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the bot process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Discord   DiscordConfig
	AMQP      AMQPConfig
	Userphone UserphoneConfig
	Broadcast BroadcastConfig
}

type AppConfig struct {
	Env string
	// Port serves the internal admin/health API only; the bot itself
	// talks to Discord over the gateway, not a listening socket.
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for managed-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type DiscordConfig struct {
	// BotToken authenticates REST calls (audit-log lookups, webhook
	// management). Webhook executes carry their own tokens in the URL.
	BotToken string

	// ClusterID tags call requests in a sharded deployment so queue
	// entries can be traced back to the process that owns them.
	ClusterID string
}

type AMQPConfig struct {
	// URL is optional. Empty disables the event publisher entirely.
	URL      string
	Exchange string
}

// UserphoneConfig tunes the call matching subsystem.
// Zero values are replaced with defaults in Validate.
type UserphoneConfig struct {
	// QueueTimeout is how long a request may wait before it is evicted
	// and its channel notified.
	QueueTimeout time.Duration

	// SweepInterval is the matching engine's background cadence.
	SweepInterval time.Duration

	// RecentMatchWindow is how long two users are excluded from
	// re-pairing after a call between them ends.
	RecentMatchWindow time.Duration

	// CallTTL bounds the cached call payload; refreshed on activity.
	CallTTL time.Duration

	// WebhookTTL bounds cached webhook URLs.
	WebhookTTL time.Duration

	// RetentionGrace is how long ended calls stay in Postgres before
	// the cleanup task purges them (flagged calls are never purged).
	RetentionGrace time.Duration
}

// BroadcastConfig tunes hub fan-out and reaction relay.
type BroadcastConfig struct {
	// MappingTTL bounds the channel→message-id broadcast mapping in
	// redis. Propagation skips entries that have already expired.
	MappingTTL time.Duration

	// ReactionCooldown is the per-user, per-original-message throttle
	// window; ReactionBurst is the max reaction ops inside it.
	ReactionCooldown time.Duration
	ReactionBurst    int

	// MaxEmoji caps distinct emoji tracked per original message.
	// Mirrors the platform's component/display ceiling.
	MaxEmoji int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Discord.BotToken = os.Getenv("DISCORD_BOT_TOKEN")
	c.Discord.ClusterID = strings.TrimSpace(os.Getenv("CLUSTER_ID"))

	c.AMQP.URL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	c.AMQP.Exchange = strings.TrimSpace(os.Getenv("AMQP_EXCHANGE"))

	c.Userphone.QueueTimeout = mustDuration("CALL_QUEUE_TIMEOUT")
	c.Userphone.SweepInterval = mustDuration("CALL_SWEEP_INTERVAL")
	c.Userphone.RecentMatchWindow = mustDuration("CALL_RECENT_MATCH_WINDOW")
	c.Userphone.CallTTL = mustDuration("CALL_CACHE_TTL")
	c.Userphone.WebhookTTL = mustDuration("WEBHOOK_CACHE_TTL")
	c.Userphone.RetentionGrace = mustDuration("CALL_RETENTION_GRACE")

	c.Broadcast.MappingTTL = mustDuration("BROADCAST_MAPPING_TTL")
	c.Broadcast.ReactionCooldown = mustDuration("REACTION_COOLDOWN")
	{
		// Optional ints: fall back to defaults when unset.
		if v := strings.TrimSpace(os.Getenv("REACTION_BURST")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("REACTION_BURST must be an integer, got %q", v))
			}
			c.Broadcast.ReactionBurst = n
		}
		if v := strings.TrimSpace(os.Getenv("REACTION_MAX_EMOJI")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("REACTION_MAX_EMOJI must be an integer, got %q", v))
			}
			c.Broadcast.MaxEmoji = n
		}
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Discord.BotToken == "" {
		errs = append(errs, errors.New("DISCORD_BOT_TOKEN is required"))
	}

	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		errs = append(errs, errors.New("AMQP_EXCHANGE is required when AMQP_URL is set"))
	}

	// Userphone/broadcast tuning defaults. All are overridable but none
	// is required.
	if c.Userphone.QueueTimeout <= 0 {
		c.Userphone.QueueTimeout = 5 * time.Minute
	}
	if c.Userphone.SweepInterval <= 0 {
		c.Userphone.SweepInterval = 5 * time.Second
	}
	if c.Userphone.RecentMatchWindow <= 0 {
		c.Userphone.RecentMatchWindow = 24 * time.Hour
	}
	if c.Userphone.CallTTL <= 0 {
		c.Userphone.CallTTL = time.Hour
	}
	if c.Userphone.WebhookTTL <= 0 {
		c.Userphone.WebhookTTL = 24 * time.Hour
	}
	if c.Userphone.RetentionGrace <= 0 {
		c.Userphone.RetentionGrace = 30 * time.Minute
	}
	if c.Userphone.SweepInterval >= c.Userphone.QueueTimeout {
		errs = append(errs, errors.New("CALL_SWEEP_INTERVAL must be shorter than CALL_QUEUE_TIMEOUT"))
	}

	if c.Broadcast.MappingTTL <= 0 {
		c.Broadcast.MappingTTL = 24 * time.Hour
	}
	if c.Broadcast.ReactionCooldown <= 0 {
		c.Broadcast.ReactionCooldown = 3 * time.Second
	}
	if c.Broadcast.ReactionBurst <= 0 {
		c.Broadcast.ReactionBurst = 1
	}
	if c.Broadcast.MaxEmoji <= 0 {
		c.Broadcast.MaxEmoji = 25
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:")
	for _, e := range errs {
		b.WriteString("\n- ")
		b.WriteString(e.Error())
	}
	return errors.New(b.String())
}
