package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/feature-export/internal/core/model"
)

const (
	defaultColumnURL = "https://services.arcgis.com/V6ZHFr6zdgNZuVG0/arcgis/rest/services/Landscape_Trees/FeatureServer/0"
	defaultFullURL   = "https://webgis.momra.gov.sa/server/rest/services/RealEstate/Parcel_Border/MapServer/2"
)

// MailCfg is all-or-nothing: either every required field is set or none is.
type MailCfg struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	DefaultTo string
	Subject   string
	Body      string
}

// Enabled reports whether any mail setting was supplied.
func (m MailCfg) Enabled() bool {
	return m.Host != "" || m.Username != "" || m.Password != "" || m.From != "" || m.Port != 0
}

type CacheCfg struct {
	Enabled   bool
	RedisAddr string
	TTL       time.Duration
	L1Size    int
	OpTimeout time.Duration
}

type JobsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	LogSampleN      int
	ColumnExportURL string
	FullExportURL   string
	EmailExportURL  string
	FullColumns     []string
	ReportTitle     string
	TitleSpan       int
	H3Res           int
	UpstreamTimeout time.Duration
	MetricsEnabled  bool
	Mail            MailCfg
	Cache           CacheCfg
	Jobs            JobsCfg
}

func FromEnv() Config {
	return Config{
		Addr:            getenv("ADDR", ":8090"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		LogSampleN:      getint("LOG_SAMPLE_N", 0),
		ColumnExportURL: getenv("COLUMN_EXPORT_URL", defaultColumnURL),
		FullExportURL:   getenv("FULL_EXPORT_URL", defaultFullURL),
		EmailExportURL:  getenv("EMAIL_EXPORT_URL", ""),
		FullColumns:     splitCSV(getenv("FULL_EXPORT_COLUMNS", strings.Join(model.KnownFields, ","))),
		ReportTitle:     getenv("REPORT_TITLE", "عنوان البيانات"),
		TitleSpan:       getint("TITLE_SPAN", 5),
		H3Res:           getint("H3_RES", 9),
		UpstreamTimeout: getduration("UPSTREAM_TIMEOUT", 30*time.Second),
		MetricsEnabled:  getbool("METRICS_ENABLED", true),
		Mail: MailCfg{
			Host:      getenv("MAIL_HOST", ""),
			Port:      getint("MAIL_PORT", 0),
			Username:  getenv("MAIL_USERNAME", ""),
			Password:  getenv("MAIL_PASSWORD", ""),
			From:      getenv("MAIL_FROM", ""),
			DefaultTo: getenv("MAIL_DEFAULT_TO", ""),
			Subject:   getenv("MAIL_SUBJECT", "Your Exported Data"),
			Body:      getenv("MAIL_BODY", "Please find the attached Excel file."),
		},
		Cache: CacheCfg{
			Enabled:   getbool("CACHE_ENABLED", false),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			TTL:       getduration("CACHE_TTL", 5*time.Minute),
			L1Size:    getint("CACHE_L1_SIZE", 256),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Jobs: JobsCfg{
			Enabled: getbool("JOBS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "export-jobs"),
			GroupID: getenv("KAFKA_GROUP_ID", "feature-export"),
		},
	}
}

// Validate rejects settings that would only fail later, mid-request.
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"COLUMN_EXPORT_URL": c.ColumnExportURL,
		"FULL_EXPORT_URL":   c.FullExportURL,
		"EMAIL_EXPORT_URL":  c.EmailExportURL,
	} {
		if v == "" && name == "EMAIL_EXPORT_URL" {
			continue
		}
		if err := checkURL(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(c.FullColumns) == 0 {
		errs = append(errs, errors.New("FULL_EXPORT_COLUMNS: at least one column is required"))
	}
	if c.TitleSpan < 1 {
		errs = append(errs, fmt.Errorf("TITLE_SPAN: must be >= 1 (got %d)", c.TitleSpan))
	}
	if c.H3Res < 0 || c.H3Res > 15 {
		errs = append(errs, fmt.Errorf("H3_RES: must be 0..15 (got %d)", c.H3Res))
	}
	if c.Mail.Enabled() {
		m := c.Mail
		if m.Host == "" {
			errs = append(errs, errors.New("MAIL_HOST is required when mail is configured"))
		}
		if m.Port <= 0 || m.Port > 65535 {
			errs = append(errs, fmt.Errorf("MAIL_PORT: invalid port %d", m.Port))
		}
		if m.Username == "" {
			errs = append(errs, errors.New("MAIL_USERNAME is required when mail is configured"))
		}
		if m.Password == "" {
			errs = append(errs, errors.New("MAIL_PASSWORD is required when mail is configured"))
		}
		if m.From == "" {
			errs = append(errs, errors.New("MAIL_FROM is required when mail is configured"))
		}
	}
	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when CACHE_ENABLED=true"))
	}
	if c.Jobs.Enabled && len(splitCSV(c.Jobs.Brokers)) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when JOBS_ENABLED=true"))
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) url (got %q)", raw)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// SplitCSV trims and drops empty items from a comma separated list.
func SplitCSV(s string) []string { return splitCSV(s) }

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
