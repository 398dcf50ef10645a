package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/earnlock/earnlock/internal/config"
	"github.com/earnlock/earnlock/internal/controller"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var checkAPIAddr string

var checkCmd = &cobra.Command{
	Use:   "check [TARGET]",
	Short: "Check the current blocking decision",
	Long: `Check what the running earnlock daemon would decide right now: the current
state, the unlock window, and whether a given target is blocked.`,
	Example: `  earnlock check
  earnlock -c /etc/earnlock/config.yaml check social
  earnlock check --api 127.0.0.1:8710 games`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkAPIAddr, "api", "", "Address of the running daemon's control API (default from config)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	addr := checkAPIAddr
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		addr = fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/v1/status", addr))
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d for status query", resp.StatusCode)
	}

	var status controller.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}

	var target string
	if len(args) > 0 {
		target = args[0]
	}

	printStatus(addr, target, &status)
	return nil
}

func printStatus(addr, target string, status *controller.Status) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("EARNLOCK STATUS CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Daemon:     %s\n", addr)
	fmt.Printf("Plan:       %s\n", status.PlanTier)
	fmt.Println()

	cyan.Print("State:      ")
	switch status.State {
	case "LOCKED":
		red.Println("LOCKED")
		if status.GraceRemaining > 0 {
			fmt.Printf("            → Grace period: %s until enforcement\n", status.GraceRemaining.Round(time.Second))
		} else {
			fmt.Println("            → Targets are blocked, complete a workout to unlock")
		}
	case "EARNING":
		yellow.Println("EARNING")
		fmt.Printf("            → Workout in progress (%.0f%% complete)\n", status.WorkoutProgress*100)
	case "UNLOCKED":
		green.Println("UNLOCKED")
		fmt.Printf("            → %s remaining in the unlock window\n", status.UnlockRemaining.Round(time.Second))
	case "EXPIRED":
		red.Println("EXPIRED")
		fmt.Println("            → Unlock window ended, targets are blocked again")
	default:
		fmt.Printf("%s\n", status.State)
	}

	if status.Emergency != nil && status.Emergency.Active {
		fmt.Println()
		yellow.Print("Emergency:  ")
		yellow.Println("ACTIVE")
		fmt.Printf("            → %s remaining, %d/%d used today\n",
			status.Emergency.Remaining.Round(time.Second),
			status.Emergency.UsedToday, status.Emergency.MaxPerDay)
	}

	if status.Usage != nil {
		fmt.Println()
		fmt.Printf("Today:      earned %s, consumed %s\n",
			status.Usage.Earned.Round(time.Second), status.Usage.Consumed.Round(time.Second))
		if status.Usage.CapReached {
			red.Println("            → Daily cap reached")
		} else if status.Usage.DailyCap > 0 {
			fmt.Printf("            → %s left before the daily cap\n", status.Usage.Remaining.Round(time.Second))
		}
	}

	if target != "" {
		fmt.Println()
		cyan.Printf("Target:     %s\n", target)
		cyan.Print("Decision:   ")
		if containsTarget(status.BlockedTargets, target) {
			red.Println("BLOCKED")
		} else {
			green.Println("ACCESSIBLE")
		}
	} else if len(status.BlockedTargets) > 0 {
		fmt.Println()
		fmt.Printf("Blocked:    %v\n", status.BlockedTargets)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

func containsTarget(targets []string, target string) bool {
	for _, t := range targets {
		if t == target {
			return true
		}
	}
	return false
}
