package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quenchlab/aqualog/internal/clock"
	"github.com/quenchlab/aqualog/internal/config"
	"github.com/quenchlab/aqualog/internal/gateway"
	"github.com/quenchlab/aqualog/internal/store"
)

// Replier handles one message end to end (allows mocking in tests)
type Replier interface {
	HandleMessage(ctx context.Context, text string) string
	Shutdown() error
}

// ReplierFactory creates a Replier instance
type ReplierFactory func(cfg *config.Config) (Replier, error)

// DefaultReplierFactory builds the full pipeline without starting channels
func DefaultReplierFactory(cfg *config.Config) (Replier, error) {
	return gateway.New(cfg)
}

// ParseOptions for running parse with custom dependencies
type ParseOptions struct {
	ReplierFactory ReplierFactory
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "aqualog",
	Short: "aqualog - water intake tracker with a chat interface",
}

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Run the intent pipeline in single message or REPL mode",
	RunE:  runParse,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + reminders)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aqualog status and today's progress",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	parseCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to parse")
	rootCmd.AddCommand(parseCmd, gatewayCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runParse is the command handler that uses default options
func runParse(cmd *cobra.Command, args []string) error {
	return runParseWithOptions(ParseOptions{})
}

// runParseWithOptions runs parse with injectable dependencies for testing
func runParseWithOptions(opts ParseOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.ReplierFactory
	if factory == nil {
		factory = DefaultReplierFactory
	}

	rep, err := factory(cfg)
	if err != nil {
		return err
	}
	defer rep.Shutdown()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		fmt.Fprintln(stdout, rep.HandleMessage(ctx, messageFlag))
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "aqualog parse (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		if reply := rep.HandleMessage(ctx, input); reply != "" {
			fmt.Fprintln(stdout, reply)
		}
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cfg.Channels.Telegram.Enabled {
		return fmt.Errorf("no channel enabled. Run 'aqualog onboard' and set channels.telegram in %s", config.ConfigPath())
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.Store.DBPath), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	fmt.Printf("Data dir ready: %s\n", filepath.Dir(cfg.Store.DBPath))
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your provider API key and Telegram token\n", cfgPath)
	fmt.Println("  2. Or set AQUALOG_API_KEY / AQUALOG_TELEGRAM_TOKEN environment variables")
	fmt.Println("  3. Run 'aqualog parse -m \"500ml\"' to test the pipeline")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set (deterministic parsing only)")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Bottle: %d ml, goal: %d ml\n", cfg.User.BottleMl, cfg.User.DailyGoalMl)

	if _, err := os.Stat(cfg.Store.DBPath); err != nil {
		fmt.Println("Log: empty (run 'aqualog onboard')")
		return nil
	}

	st, err := store.New(cfg.Store.DBPath)
	if err != nil {
		fmt.Printf("Log: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	clk := clock.New(cfg.Clock.UTCOffsetMinutes)
	start := clk.StartOfToday()
	total, err := st.SumBetween(clk.Format(start), clk.Format(start.AddDate(0, 0, 1)))
	if err != nil {
		fmt.Printf("Log: error (%v)\n", err)
		return nil
	}

	prefs, _ := st.GetPrefs(store.Prefs{BottleMl: cfg.User.BottleMl, DailyGoalMl: cfg.User.DailyGoalMl})
	fmt.Printf("Today: %d / %d ml\n", total, prefs.DailyGoalMl)
	return nil
}
