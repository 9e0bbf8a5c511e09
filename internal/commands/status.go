package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codersbrain/refi-ready/internal/config"
	"github.com/codersbrain/refi-ready/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current pipeline run status and dataset summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	base := serverBaseURL(cfg.ListenAddr)
	client := &http.Client{Timeout: 10 * time.Second}

	snap, err := fetchStatus(client, base)
	if err != nil {
		return fmt.Errorf("querying %s (is the server running?): %w", base, err)
	}
	printRunSnapshot(snap)

	summary, err := fetchLeadsSummary(client, base)
	if err == nil {
		printLeadsSummary(summary)
	}
	return nil
}

func printLeadsSummary(summary *leadsSummary) {
	fmt.Println()
	bold := color.New(color.Bold)
	_, _ = bold.Println("Dataset:")
	fmt.Printf("  Leads:      %d\n", summary.Count)
	fmt.Printf("  Provenance: %s\n", summary.Provenance)

	counts := make(map[types.MarketingCategory]int)
	for _, lead := range summary.Leads {
		counts[lead.MarketingCategory]++
	}
	for _, cat := range types.Categories() {
		name := string(cat)
		switch cat {
		case types.CategoryImmediateAction:
			name = color.RedString(name)
		case types.CategoryHotLead:
			name = color.YellowString(name)
		case types.CategoryWatchlist:
			name = color.CyanString(name)
		case types.CategoryIneligible:
			name = color.WhiteString(name)
		}
		fmt.Printf("    %-30s %d\n", name, counts[cat])
	}
}

func serverBaseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func fetchStatus(client *http.Client, base string) (*types.RunSnapshot, error) {
	resp, err := client.Get(base + "/api/pipeline/status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var snap types.RunSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

type leadsSummary struct {
	Count      int                `json:"count"`
	Provenance string             `json:"provenance"`
	Leads      []types.LeadRecord `json:"leads"`
}

func fetchLeadsSummary(client *http.Client, base string) (*leadsSummary, error) {
	resp, err := client.Get(base + "/api/leads")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var summary leadsSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func printRunSnapshot(snap *types.RunSnapshot) {
	bold := color.New(color.Bold)
	_, _ = bold.Println("Pipeline:")

	statusStr := string(snap.Status)
	switch snap.Status {
	case types.RunSucceeded:
		statusStr = color.GreenString(statusStr)
	case types.RunFailed:
		statusStr = color.RedString(statusStr)
	case types.RunRunning:
		statusStr = color.CyanString(statusStr)
	default:
		statusStr = color.YellowString(statusStr)
	}
	fmt.Printf("  Status:  %s\n", statusStr)

	if snap.StartedAt != nil {
		fmt.Printf("  Started: %s\n", snap.StartedAt.Format(time.RFC3339))
	}
	if snap.FinishedAt != nil {
		fmt.Printf("  Ended:   %s\n", snap.FinishedAt.Format(time.RFC3339))
	}
	if snap.Message != "" {
		fmt.Printf("  Message: %s\n", snap.Message)
	}
	if snap.SourceKey != nil {
		fmt.Printf("  Output:  %s\n", *snap.SourceKey)
	}

	if len(snap.LastOutput) > 0 {
		fmt.Println()
		_, _ = bold.Println("Recent output:")
		for _, line := range snap.LastOutput {
			fmt.Printf("  %s\n", line)
		}
	}
}
