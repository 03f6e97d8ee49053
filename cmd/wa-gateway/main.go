// ABOUTME: Entry point for the wa-gateway server and its operator commands
// ABOUTME: serve, init, keys, admin-token and health subcommands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/wa-gateway/internal/auth"
	"github.com/2389/wa-gateway/internal/config"
	"github.com/2389/wa-gateway/internal/gateway"
	"github.com/2389/wa-gateway/internal/tenant"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                _
 __      ____ _        __ _  __ _| |_ _____      ____ _ _   _
 \ \ /\ / / _' |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
  \ V  V / (_| |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
   \_/\_/ \__,_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                      |___/                             |___/
`

// defaultTokenTTL is the lifetime of tokens from admin-token.
const defaultTokenTTL = 30 * 24 * time.Hour

// xdgPath resolves $envVar/wa-gateway/elem, with fallback under the home
// directory when the variable is unset.
func xdgPath(envVar string, homeFallback []string, elem ...string) string {
	base := os.Getenv(envVar)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(elem...)
		}
		base = filepath.Join(append([]string{home}, homeFallback...)...)
	}
	return filepath.Join(append([]string{base, "wa-gateway"}, elem...)...)
}

// getConfigPath returns WA_GATEWAY_CONFIG, else
// $XDG_CONFIG_HOME/wa-gateway/gateway.yaml (default ~/.config).
func getConfigPath() string {
	if p := os.Getenv("WA_GATEWAY_CONFIG"); p != "" {
		return p
	}
	return xdgPath("XDG_CONFIG_HOME", []string{".config"}, "gateway.yaml")
}

// getDataPath returns $XDG_DATA_HOME/wa-gateway (default ~/.local/share).
func getDataPath() string {
	return xdgPath("XDG_DATA_HOME", []string{".local", "share"})
}

func usage() {
	fmt.Println("Usage: wa-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  keys add|remove TENANT         Issue or revoke a tenant API key")
	fmt.Println("  keys list                      List tenant API keys")
	fmt.Println("  admin-token [--subject NAME]   Sign an admin token for /admin routes")
	fmt.Println("  health                         Check gateway readiness")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	config.LoadDotEnv()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "keys":
		err = runKeys(ctx, os.Args[2:])
	case "admin-token":
		err = runAdminToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	printStartup(cfg, configPath)

	logger.Info("starting wa-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"network", cfg.Network.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// printStartup shows the effective settings under the banner.
func printStartup(cfg *config.Config, configPath string) {
	bullet := color.New(color.FgGreen).Sprint("    ▶ ")
	note := color.New(color.FgHiBlack).Sprint
	warn := color.New(color.FgYellow).Sprint

	lines := [][2]string{
		{"Config", configPath},
		{"HTTP", cfg.Server.HTTPAddr},
		{"Database", cfg.Database.Driver},
		{"Quota", fmt.Sprintf("%d known / %d unknown per day %s",
			cfg.Quota.LimitKnown, cfg.Quota.LimitUnknown, note("("+cfg.Quota.Backend+")"))},
	}
	if ts := cfg.Tailscale; ts.Enabled {
		v := color.CyanString(ts.Hostname)
		if ts.Funnel {
			v += warn(" [funnel]")
		}
		if ts.Ephemeral {
			v += note(" (ephemeral)")
		}
		lines = append(lines, [2]string{"Tailscale", v})
	}
	if cfg.Webhook.URL != "" {
		lines = append(lines, [2]string{"Webhook", cfg.Webhook.URL + note(" for "+cfg.Webhook.TriggerNumber)})
	}

	for _, l := range lines {
		fmt.Printf("%s%-10s %s\n", bullet, l[0]+":", l[1])
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Println(warn("    ! admin API disabled: no jwt_secret configured"))
	}
	fmt.Println()
}

// localURL turns a listen address into a URL reachable from this host.
func localURL(addr, path string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, localURL(cfg.Server.HTTPAddr, "/health/ready"), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runKeys(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("keys requires a subcommand: add, remove or list")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := gateway.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green := color.New(color.FgGreen)

	switch args[0] {
	case "add":
		if len(args) != 2 {
			return fmt.Errorf("usage: wa-gateway keys add TENANT")
		}
		key, err := s.CreateAPIKey(ctx, tenant.NormalizeID(args[1]))
		if err != nil {
			return fmt.Errorf("creating API key: %w", err)
		}
		green.Printf("  ✓ API key for %s\n", key.Tenant)
		fmt.Printf("  %s\n", key.Key)
		return nil

	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("usage: wa-gateway keys remove TENANT")
		}
		tid := tenant.NormalizeID(args[1])
		if err := s.DeleteAPIKey(ctx, tid); err != nil {
			return fmt.Errorf("deleting API key for %s: %w", tid, err)
		}
		green.Printf("  ✓ Revoked API key for %s\n", tid)
		return nil

	case "list":
		keys, err := s.ListAPIKeys(ctx)
		if err != nil {
			return fmt.Errorf("listing API keys: %w", err)
		}
		if len(keys) == 0 {
			fmt.Println("No API keys.")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TENANT\tKEY\tCREATED")
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Tenant, k.Key, k.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	}

	return fmt.Errorf("unknown keys subcommand: %s", args[0])
}

// runAdminToken signs an admin-scoped JWT with the configured secret.
// Supports both "--subject value" and "--subject=value" formats, same for --ttl.
func runAdminToken(args []string) error {
	subject := "operator"
	ttl := defaultTokenTTL

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var name, value string
		switch {
		case arg == "--subject" || arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", arg)
			}
			name, value = arg, args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="), strings.HasPrefix(arg, "--ttl="):
			name, value, _ = strings.Cut(arg, "=")
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}

		switch name {
		case "--subject":
			subject = strings.TrimSpace(value)
		case "--ttl":
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid --ttl %q", value)
			}
			ttl = d
		}
	}
	if subject == "" {
		return fmt.Errorf("--subject cannot be empty")
	}

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s or JWT_SECRET", configPath)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, auth.ScopeAdmin, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "expires %s\n", time.Now().Add(ttl).Format("Jan 02, 2006 15:04"))
	return nil
}

// runInit asks for the settings that differ per deployment and writes a
// complete YAML config built on the defaults.
func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("wa-gateway configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.Default()

	fmt.Println("\n--- Server ---")
	cfg.Server.HTTPAddr = prompt(reader, "HTTP address", cfg.Server.HTTPAddr)
	cfg.Server.BaseURL = prompt(reader, "Public base URL", localURL(cfg.Server.HTTPAddr, ""))

	fmt.Println("\n--- Database ---")
	cfg.Database.Driver = prompt(reader, "Driver (sqlite/postgres)", cfg.Database.Driver)
	if cfg.Database.Driver == "postgres" {
		cfg.Database.Path = ""
		cfg.Database.DSN = prompt(reader, "Postgres DSN", "postgres://localhost:5432/wa_gateway")
	} else {
		cfg.Database.Path = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "wa-gateway.db"))
	}

	fmt.Println("\n--- Daily limits ---")
	var err error
	if cfg.Quota.LimitKnown, err = promptInt(reader, "Per known contact", cfg.Quota.LimitKnown); err != nil {
		return err
	}
	if cfg.Quota.LimitUnknown, err = promptInt(reader, "Per unknown number", cfg.Quota.LimitUnknown); err != nil {
		return err
	}
	cfg.Quota.UnknownDelayRaw = prompt(reader, "Delay before messaging unknown numbers", cfg.Quota.UnknownDelayRaw)
	if _, err := time.ParseDuration(cfg.Quota.UnknownDelayRaw); err != nil {
		return fmt.Errorf("delay %q: %w", cfg.Quota.UnknownDelayRaw, err)
	}
	cfg.Quota.Backend = prompt(reader, "Counter backend (database/redis)", cfg.Quota.Backend)
	if cfg.Quota.Backend == "redis" {
		cfg.Redis.URL = prompt(reader, "Redis URL", "redis://localhost:6379/0")
	}

	fmt.Println("\n--- Webhook ---")
	cfg.Webhook.URL = prompt(reader, "Forward URL (empty disables)", "")
	if cfg.Webhook.URL != "" {
		cfg.Webhook.TriggerNumber = prompt(reader, "Trigger number", "")
	}

	fmt.Println("\n--- Tailscale ---")
	if cfg.Tailscale.Enabled = yes(prompt(reader, "Enable Tailscale?", "no")); cfg.Tailscale.Enabled {
		cfg.Tailscale.Hostname = prompt(reader, "Hostname", "wa-gateway")
		cfg.Tailscale.AuthKey = prompt(reader, "Auth key (empty for interactive login)", "")
		cfg.Tailscale.Ephemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		cfg.Tailscale.Funnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging ---")
	cfg.Logging.Level = prompt(reader, "Level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Format (text/json)", cfg.Logging.Format)

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	cfg.Auth.JWTSecret = base64.StdEncoding.EncodeToString(secret)

	if err := writeConfig(outputFile, cfg); err != nil {
		return err
	}
	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  wa-gateway keys add <tenant>   # issue an API key")
	fmt.Println("  wa-gateway serve               # start the gateway")
	return nil
}

// writeConfig validates cfg and writes it as YAML with owner-only
// permissions, since it carries the JWT secret.
func writeConfig(path string, cfg *config.Config) error {
	check := *cfg
	if err := check.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	data = append([]byte("# wa-gateway configuration\n# Generated by wa-gateway init\n\n"), data...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func promptInt(reader *bufio.Reader, question string, defaultVal int) (int, error) {
	s := prompt(reader, question, strconv.Itoa(defaultVal))
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s: %q is not a positive number", strings.ToLower(question), s)
	}
	return n, nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
