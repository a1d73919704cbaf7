package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"strat-scanner/config"
	"strat-scanner/internal/auth"
)

func main() {
	fmt.Println("========================================")
	fmt.Println(" Strat Scanner Administration Tool")
	fmt.Println("========================================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Issue API token")
		fmt.Println("  2. Validate an API token")
		fmt.Println("  3. Write sample config.json")
		fmt.Println("  4. Show effective configuration")
		fmt.Println("  5. Exit")
		fmt.Print("\nSelect option: ")

		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		switch input {
		case "1":
			issueToken(reader)
		case "2":
			validateToken(reader)
		case "3":
			writeSampleConfig(reader)
		case "4":
			showConfig()
		case "5":
			fmt.Println("Goodbye!")
			os.Exit(0)
		default:
			fmt.Println("Invalid option")
		}
	}
}

// jwtSecret uses AUTH_JWT_SECRET when set and prompts otherwise
func jwtSecret(reader *bufio.Reader) string {
	if secret := os.Getenv("AUTH_JWT_SECRET"); secret != "" {
		return secret
	}
	fmt.Print("JWT secret: ")
	secret, _ := reader.ReadString('\n')
	return strings.TrimSpace(secret)
}

func issueToken(reader *bufio.Reader) {
	fmt.Println("\n--- Issue API Token ---")
	fmt.Println("Roles:")
	fmt.Println("  1. Operator (may trigger scans)")
	fmt.Println("  2. Viewer   (read only)")
	fmt.Print("Select role (1-2): ")

	input, _ := reader.ReadString('\n')
	role := auth.RoleViewer
	switch strings.TrimSpace(input) {
	case "1":
		role = auth.RoleOperator
	case "2":
	default:
		fmt.Println("Invalid role, defaulting to viewer")
	}

	fmt.Print("Subject (who the token is for): ")
	subject, _ := reader.ReadString('\n')
	subject = strings.TrimSpace(subject)
	if subject == "" {
		fmt.Println("Subject is required")
		return
	}

	duration := 24 * time.Hour
	fmt.Print("Lifetime (e.g. 24h, 720h) [24h]: ")
	if raw, _ := reader.ReadString('\n'); strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil || d <= 0 {
			fmt.Println("Invalid lifetime")
			return
		}
		duration = d
	}

	manager := auth.NewJWTManager(jwtSecret(reader), duration)
	token, err := manager.GenerateToken(subject, role)
	if err != nil {
		fmt.Printf("Failed to issue token: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  Subject: %s\n", subject)
	fmt.Printf("  Role:    %s\n", role)
	fmt.Printf("  Expires: %s\n", time.Now().Add(duration).Format("2006-01-02 15:04:05"))
	fmt.Printf("  Token:   %s\n", token)
	fmt.Println("========================================")
}

func validateToken(reader *bufio.Reader) {
	fmt.Println("\n--- Validate API Token ---")
	fmt.Print("Enter token: ")

	token, _ := reader.ReadString('\n')
	token = strings.TrimSpace(token)

	claims, err := auth.NewJWTManager(jwtSecret(reader), 0).ValidateToken(token)

	fmt.Println("\n========================================")
	if err != nil {
		fmt.Printf("  Status:  INVALID\n")
		fmt.Printf("  Error:   %s\n", err)
	} else {
		fmt.Printf("  Status:  VALID\n")
		fmt.Printf("  Subject: %s\n", claims.Subject)
		fmt.Printf("  Role:    %s\n", claims.Role)
	}
	fmt.Println("========================================")
}

func writeSampleConfig(reader *bufio.Reader) {
	fmt.Print("\nFile name [config.json]: ")
	filename, _ := reader.ReadString('\n')
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "config.json"
	}

	if _, err := os.Stat(filename); err == nil {
		fmt.Printf("%s exists, overwrite? (y/n): ", filename)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "y" {
			return
		}
	}

	if err := config.GenerateSampleConfig(filename); err != nil {
		fmt.Printf("Failed to write sample config: %v\n", err)
		return
	}
	fmt.Printf("Saved to: %s\n", filename)
}

func showConfig() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("\nConfiguration is invalid: %v\n", err)
		return
	}

	provider := "massive"
	if cfg.Provider.MockMode || cfg.Provider.APIKey == "" {
		provider = "synthetic"
	}

	fmt.Println("\n========================================")
	fmt.Println(" Effective Configuration")
	fmt.Println("========================================")
	fmt.Printf("  Environment:   %s\n", cfg.Environment)
	fmt.Printf("  Provider:      %s\n", provider)
	fmt.Printf("  Tickers:       %s\n", strings.Join(cfg.Scanner.Tickers, ", "))
	fmt.Printf("  Lookback:      %d days / %d weeks\n", cfg.Scanner.DaysLookback, cfg.Scanner.WeeksLookback)
	fmt.Printf("  Interval:      %ds\n", cfg.Scanner.IntervalSeconds)
	fmt.Printf("  Max signals:   %d per scan\n", cfg.Scanner.MaxSignalsPerScan)
	fmt.Printf("  Cooldown:      %d days\n", cfg.Scanner.CooldownDays)
	fmt.Printf("  Timezone:      %s\n", cfg.Scanner.MarketTimezone)
	fmt.Printf("  Max DTE:       %d\n", cfg.Options.MaxDaysToExpiration)
	fmt.Printf("  Min OI:        %d\n", cfg.Options.MinOpenInterest)
	fmt.Printf("  Max spread:    %.0f%%\n", cfg.Options.MaxSpreadPct*100)
	fmt.Printf("  Telegram:      %t\n", cfg.Notification.Telegram.Enabled)
	fmt.Printf("  Discord:       %t\n", cfg.Notification.Discord.Enabled)
	fmt.Printf("  API server:    %t (port %d, auth %t)\n", cfg.Server.Enabled, cfg.Server.Port, cfg.Auth.Enabled)
	fmt.Println("========================================")
}
