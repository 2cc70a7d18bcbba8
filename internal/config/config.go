package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr        string
		CORSOrigins []string
	}
	Portal struct {
		Addr         string
		APIBaseURL   string
		LoginPath    string
		SignupPath   string
		Homes        map[string]string
		Routes       []RouteConfig
		SessionTTL   time.Duration
		InitWait     time.Duration
		SubmitWait   time.Duration
		RefreshEvery time.Duration
		CookieSecure bool
	}
	Database struct {
		Path string
	}
	Auth struct {
		JWTSecret string
		TokenTTL  time.Duration
		ResetTTL  time.Duration
		ResetURL  string
	}
	Storage struct {
		Bucket        string
		KeyPrefix     string
		Region        string
		Endpoint      string
		PublicBaseURL string
		ACL           string
		TempDir       string
		MaxUploadMB   int64
	}
	AWS struct {
		Profile string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Telemetry struct {
		OTLPEndpoint string
		ServiceName  string
	}
	Log struct {
		Level string
	}
}

// RouteConfig declares the access rules of one portal path.
type RouteConfig struct {
	Path         string
	RequireAuth  bool
	AllowedRoles []string
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	_ = godotenv.Load() // optional .env, never overrides the real environment

	v := viper.New()
	v.SetEnvPrefix("SKILLLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// env lists arrive comma separated, possibly with padding
	cfg.Server.CORSOrigins = splitList(strings.Join(cfg.Server.CORSOrigins, ","))

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.corsorigins", []string{"http://localhost:3000"})

	v.SetDefault("portal.addr", "0.0.0.0:3000")
	v.SetDefault("portal.apibaseurl", "http://127.0.0.1:8080")
	v.SetDefault("portal.loginpath", "/login")
	v.SetDefault("portal.signuppath", "/signup")
	v.SetDefault("portal.homes", map[string]string{
		"client":     "/client",
		"freelancer": "/freelancer",
	})
	v.SetDefault("portal.routes", DefaultRoutes())
	v.SetDefault("portal.sessionttl", 24*time.Hour)
	v.SetDefault("portal.initwait", 2*time.Second)
	v.SetDefault("portal.submitwait", 10*time.Second)
	v.SetDefault("portal.refreshevery", 5*time.Minute)
	v.SetDefault("portal.cookiesecure", false)

	v.SetDefault("database.path", "data/skilllink.db")

	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttl", 24*time.Hour)
	v.SetDefault("auth.resetttl", time.Hour)
	v.SetDefault("auth.reseturl", "http://localhost:3000/reset-password")

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "skilllink")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.publicbaseurl", "")
	v.SetDefault("storage.acl", "")
	v.SetDefault("storage.tempdir", "data/uploads")
	v.SetDefault("storage.maxuploadmb", 10)

	v.SetDefault("aws.profile", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("telemetry.otlpendpoint", "")
	v.SetDefault("telemetry.servicename", "skilllink")

	v.SetDefault("log.level", "info")
}

// DefaultRoutes is the portal route table used when no config file supplies one.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Path: "/dashboard", RequireAuth: true},
		{Path: "/profile", RequireAuth: true},
		{Path: "/client", RequireAuth: true, AllowedRoles: []string{"client"}},
		{Path: "/freelancer", RequireAuth: true, AllowedRoles: []string{"freelancer"}},
		{Path: "/admin", RequireAuth: true, AllowedRoles: []string{"admin"}},
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
