package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Default Sent folder names, in probe order. Gmail exposes a localized
// variant depending on the account language, so we try several.
var defaultSentFolders = []string{
	"[Gmail]/Sent Mail",
	"[Gmail]/Messages envoyés",
	"[Gmail]/Sent",
	"Sent",
}

type Config struct {
	Environment string

	IMAPServer string
	IMAPPort   int
	MailUser   string
	MailPass   string

	DBHost     string
	DBPort     string
	DBUsername string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// SyncWindowDays is the lookback window for header sync passes.
	SyncWindowDays int
	// SyncMaxMessages caps the number of headers fetched per pass.
	SyncMaxMessages int
	// SentFolders are the candidate Sent folder names, tried in order.
	SentFolders []string
	// SpamSenders and SpamSubjects are substring blocklists for the noise filter.
	SpamSenders  []string
	SpamSubjects []string

	Timezone string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("COACHING_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	imapPort, err := strconv.Atoi(getEnvOrDefault("IMAP_PORT", "993"))
	if err != nil {
		return nil, fmt.Errorf("IMAP_PORT must be a number: %w", err)
	}

	windowDays, err := strconv.Atoi(getEnvOrDefault("SYNC_WINDOW_DAYS", "14"))
	if err != nil {
		return nil, fmt.Errorf("SYNC_WINDOW_DAYS must be a number: %w", err)
	}

	maxMessages, err := strconv.Atoi(getEnvOrDefault("SYNC_MAX_MESSAGES", "50"))
	if err != nil {
		return nil, fmt.Errorf("SYNC_MAX_MESSAGES must be a number: %w", err)
	}

	config := &Config{
		Environment:     env,
		IMAPServer:      getEnvOrDefault("IMAP_SERVER", "imap.gmail.com"),
		IMAPPort:        imapPort,
		MailUser:        os.Getenv("MAIL_USER"),
		MailPass:        os.Getenv("MAIL_PASS"),
		DBHost:          getEnvOrDefault("COACHING_DB_HOST", "localhost"),
		DBPort:          getEnvOrDefault("COACHING_DB_PORT", "5432"),
		DBUsername:      getEnvOrDefault("COACHING_DB_USER", "coaching"),
		DBPassword:      os.Getenv("COACHING_DB_PASSWORD"),
		DBName:          getEnvOrDefault("COACHING_DB_NAME", "coaching"),
		DBSSLMode:       getEnvOrDefault("COACHING_DB_SSLMODE", "disable"),
		SyncWindowDays:  windowDays,
		SyncMaxMessages: maxMessages,
		SentFolders:     getEnvListOrDefault("SENT_FOLDERS", defaultSentFolders),
		SpamSenders:     getEnvListOrDefault("SPAM_SENDERS", nil),
		SpamSubjects:    getEnvListOrDefault("SPAM_SUBJECTS", nil),
		Timezone:        getEnvOrDefault("TZ", "UTC"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.MailUser == "" {
		return fmt.Errorf("MAIL_USER is required")
	}

	if c.MailPass == "" {
		return fmt.Errorf("MAIL_PASS is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("COACHING_DB_PASSWORD is required")
	}

	if c.SyncWindowDays <= 0 {
		return fmt.Errorf("SYNC_WINDOW_DAYS must be positive")
	}

	if c.SyncMaxMessages <= 0 {
		return fmt.Errorf("SYNC_MAX_MESSAGES must be positive")
	}

	return nil
}

// IMAPAddress returns the host:port address of the IMAP server.
func (c *Config) IMAPAddress() string {
	return fmt.Sprintf("%s:%d", c.IMAPServer, c.IMAPPort)
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
