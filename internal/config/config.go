package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig   `json:"server"`
	Database  DatabaseConfig `json:"database"`
	Warehouse DatabaseConfig `json:"warehouse"`
	Logging   LoggingConfig  `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents a PostgreSQL connection. The application
// store holds calculations and report configs; the warehouse holds the
// cycle-scoped deal/tranche facts reports run against.
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "deal_reporting",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
		},
		Warehouse: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "deal_warehouse",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
		},
		Logging: LoggingConfig{Level: "info"},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	overrideDatabase(&config.Database, "DATABASE")
	overrideDatabase(&config.Warehouse, "WAREHOUSE")
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

func overrideDatabase(db *DatabaseConfig, prefix string) {
	if host := os.Getenv(prefix + "_HOST"); host != "" {
		db.Host = host
	}
	if port := os.Getenv(prefix + "_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			db.Port = p
		}
	}
	if user := os.Getenv(prefix + "_USER"); user != "" {
		db.User = user
	}
	if pass := os.Getenv(prefix + "_PASSWORD"); pass != "" {
		db.Password = pass
	}
	if name := os.Getenv(prefix + "_DBNAME"); name != "" {
		db.DBName = name
	}
	if mode := os.Getenv(prefix + "_SSLMODE"); mode != "" {
		db.SSLMode = mode
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
