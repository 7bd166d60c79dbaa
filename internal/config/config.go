package config

import (
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTPServer `yaml:"http_server"`
	Postgres   `yaml:"postgres"`
	Redis      `yaml:"redis"`
	RabbitMQ   `yaml:"rabbitmq"`
	SMTP       `yaml:"smtp"`
	Mail       `yaml:"mail"`
	Session    `yaml:"session"`
	Limits     `yaml:"limits"`
	Admin      `yaml:"admin"`
	Webhook    `yaml:"webhook"`
	Disposable `yaml:"disposable"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// RedirectURL is where the access middleware sends denied browser
	// requests, with the deny reason appended as a query parameter.
	RedirectURL string `yaml:"redirect_url" env-default:"/verification"`
}

type Postgres struct {
	Host     string `yaml:"host" env-default:"postgres"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-required:"true"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-required:"true"`
	DBName   string `yaml:"dbname" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Redis struct {
	Addr     string `yaml:"addr" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env-default:"0"`
}

type RabbitMQ struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL"`
	QueueName string `yaml:"queue_name" env-default:"verification_emails"`
}

type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from"`
}

type Mail struct {
	// Mode selects the transport: "queue" publishes to RabbitMQ for the
	// mail worker, "smtp" sends directly.
	Mode    string        `yaml:"mode" env-default:"smtp"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

type Session struct {
	Secret     string        `yaml:"secret" env:"SESSION_SECRET" env-required:"true"`
	TTL        time.Duration `yaml:"ttl" env-default:"24h"`
	CodeTTL    time.Duration `yaml:"code_ttl" env-default:"10m"`
	CookieName string        `yaml:"cookie_name" env-default:"recruitpro_session"`
}

type Limits struct {
	IPLimit             int           `yaml:"ip_limit"`
	IPWindow            time.Duration `yaml:"ip_window" env-default:"1h"`
	EmailLimit          int           `yaml:"email_limit"`
	EmailWindow         time.Duration `yaml:"email_window" env-default:"24h"`
	DailyLimit          int           `yaml:"daily_limit" env-default:"3"`
	SuspiciousThreshold int           `yaml:"suspicious_threshold" env-default:"3"`
	BlockDuration       time.Duration `yaml:"block_duration" env-default:"1h"`
	Whitelist           string        `yaml:"whitelist" env:"WHITELIST_EMAILS"`
}

type Admin struct {
	// PasswordHash is a bcrypt hash of the admin secret.
	PasswordHash string `yaml:"password_hash" env:"ADMIN_PASSWORD_HASH" env-required:"true"`
}

type Webhook struct {
	URL            string        `yaml:"url" env:"SCORING_WEBHOOK_URL" env-required:"true"`
	Timeout        time.Duration `yaml:"timeout" env-default:"120s"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" env-default:"10485760"`
}

type Disposable struct {
	LookupURL string        `yaml:"lookup_url"`
	Timeout   time.Duration `yaml:"timeout" env-default:"10s"`
	CacheTTL  time.Duration `yaml:"cache_ttl" env-default:"24h"`
}

func MustLoad(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("Config file does not exist" + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("Failed to read config" + err.Error())
	}

	cfg.applyEnvDefaults()

	return &cfg
}

// applyEnvDefaults fills the limits that differ between production and
// everything else. Non-production limits are loose to avoid developer
// friction.
func (c *Config) applyEnvDefaults() {
	prod := c.IsProd()

	if c.Limits.IPLimit == 0 {
		if prod {
			c.Limits.IPLimit = 5
		} else {
			c.Limits.IPLimit = 50
		}
	}
	if c.Limits.EmailLimit == 0 {
		if prod {
			c.Limits.EmailLimit = 10
		} else {
			c.Limits.EmailLimit = 100
		}
	}
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// WhitelistEmails returns the configured comma-separated whitelist as a
// lowercased slice.
func (c *Config) WhitelistEmails() []string {
	if c.Limits.Whitelist == "" {
		return nil
	}

	parts := strings.Split(c.Limits.Whitelist, ",")
	emails := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			emails = append(emails, p)
		}
	}

	return emails
}
