package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/repchat/internal/config"
)

// ConfigCheckResult summarizes which optional integrations a config turns on.
type ConfigCheckResult struct {
	Present  map[string]string // secrets and endpoints that are set (masked values)
	Enabled  []string          // integrations that will be wired
	Warnings []string          // non-fatal warnings
}

// CheckConfig reports the integrations cfg enables and the fallbacks it implies.
func CheckConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Present:  make(map[string]string),
		Enabled:  []string{},
		Warnings: []string{},
	}

	secrets := map[string]string{
		"database.url":      cfg.Database.URL,
		"redis.password":    cfg.Redis.Password,
		"auth.jwt_secret":   cfg.Auth.JWTSecret,
		"twilio.auth_token": cfg.Twilio.AuthToken,
		"ai.api_key":        cfg.AI.APIKey,
	}
	for k, v := range secrets {
		if v != "" {
			result.Present[k] = maskSecret(v)
		}
	}

	if cfg.Database.URL != "" {
		result.Enabled = append(result.Enabled, "postgres")
	} else {
		result.Warnings = append(result.Warnings, "no database url, data is kept in memory and lost on restart")
	}
	if cfg.Redis.Address != "" {
		result.Enabled = append(result.Enabled, "redis changefeed and merge lock")
	} else {
		result.Warnings = append(result.Warnings, "no redis address, live updates only reach clients on this instance")
	}
	if cfg.Twilio.Enabled() {
		result.Enabled = append(result.Enabled, "twilio")
		if cfg.Twilio.WebhookURL == "" {
			result.Warnings = append(result.Warnings, "twilio webhook_url unset, signatures are checked against the request URL")
		}
	}
	if cfg.AI.Enabled() {
		result.Enabled = append(result.Enabled, "assistant ("+cfg.AI.Provider+")")
	}
	if cfg.Jobs.Enabled {
		result.Enabled = append(result.Enabled, "job queue")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		result.Warnings = append(result.Warnings, "auth jwt_secret is shorter than 32 bytes")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")

	if len(result.Enabled) > 0 {
		fmt.Println("Integrations:")
		for _, v := range result.Enabled {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("✓ Configured secrets:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
