package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration for the server and CLI.
type Config struct {
	ListenAddr  string
	MetricsPort int
	Debug       bool
	LogFile     string

	// Backend selects the sandbox substrate: "kubernetes", "docker" or
	// "simulated". Ignored when running inside a cluster, where the pod
	// backend is forced.
	Backend string
	// TestMode forces the simulated backend regardless of Backend.
	TestMode bool

	SessionImage   string
	Namespace      string
	CPULimit       string
	MemoryLimit    string
	CreateTimeout  time.Duration
	CommandTimeout time.Duration

	// CredentialDir is the root of the file credential store and of the
	// per-owner mounts used by the docker backend.
	CredentialDir string
	UploadDir     string

	// Store selects the session repository: "sqlite" or "postgres".
	Store    string
	StoreDSN string

	IdleTTL       time.Duration
	ReapInterval  time.Duration
	GatewayBuffer int

	// APITokens maps bearer tokens to owner ids. Stand-in for the external
	// identity provider, which is out of scope here.
	APITokens map[string]string

	SlackToken   string
	SlackChannel string
}

// Load initializes viper from file and environment and returns the typed
// configuration.
func Load(cfgFile string) (*Config, error) {
	// explicit .env loading; a missing file is fine
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("gamgui")
	}

	viper.SetEnvPrefix("GAMGUI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
		return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
	}

	cfg := &Config{
		ListenAddr:     viper.GetString("listen_addr"),
		MetricsPort:    viper.GetInt("metrics_port"),
		Debug:          viper.GetBool("debug"),
		LogFile:        viper.GetString("log_file"),
		Backend:        viper.GetString("backend"),
		TestMode:       viper.GetBool("test_mode"),
		SessionImage:   viper.GetString("session.image"),
		Namespace:      viper.GetString("session.namespace"),
		CPULimit:       viper.GetString("session.cpu_limit"),
		MemoryLimit:    viper.GetString("session.memory_limit"),
		CreateTimeout:  viper.GetDuration("session.create_timeout"),
		CommandTimeout: viper.GetDuration("session.command_timeout"),
		CredentialDir:  viper.GetString("credentials.dir"),
		UploadDir:      viper.GetString("uploads.dir"),
		Store:          viper.GetString("store.type"),
		StoreDSN:       viper.GetString("store.dsn"),
		IdleTTL:        viper.GetDuration("reaper.idle_ttl"),
		ReapInterval:   viper.GetDuration("reaper.interval"),
		GatewayBuffer:  viper.GetInt("gateway.buffer"),
		APITokens:      viper.GetStringMapString("auth.tokens"),
		SlackToken:     viper.GetString("notifications.slack.token"),
		SlackChannel:   viper.GetString("notifications.slack.channel"),
	}

	if cfg.SlackToken == "" {
		cfg.SlackToken = os.Getenv("SLACK_BOT_USER_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("metrics_port", 2112)
	viper.SetDefault("debug", false)
	viper.SetDefault("backend", "docker")
	viper.SetDefault("test_mode", false)

	viper.SetDefault("session.image", "gamgui/gam-session:latest")
	viper.SetDefault("session.namespace", "default")
	viper.SetDefault("session.cpu_limit", "500m")
	viper.SetDefault("session.memory_limit", "1Gi")
	viper.SetDefault("session.create_timeout", 60*time.Second)
	viper.SetDefault("session.command_timeout", 5*time.Minute)

	viper.SetDefault("credentials.dir", defaultStateDir("credentials"))
	viper.SetDefault("uploads.dir", defaultStateDir("uploads"))

	viper.SetDefault("store.type", "sqlite")
	viper.SetDefault("store.dsn", "")

	viper.SetDefault("reaper.idle_ttl", time.Hour)
	viper.SetDefault("reaper.interval", time.Minute)
	viper.SetDefault("gateway.buffer", 256)

	viper.SetDefault("notifications.slack.channel", "#gamgui")
}

func defaultStateDir(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + sub
	}
	return home + "/.gamgui/" + sub
}
