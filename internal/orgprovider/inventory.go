package orgprovider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

// HubCapacity is one DevHub's remaining scratch-org quota.
type HubCapacity struct {
	Alias           string
	Username        string
	DailyMax        int
	DailyRemaining  int
	ActiveMax       int
	ActiveRemaining int
}

// Inventory queries available daily/active scratch-org quotas across all
// known DevHubs before a run starts. Informational only: a failure here
// never affects in-flight tasks.
type Inventory struct {
	runner subprocess.Runner
	logger *slog.Logger
}

// NewInventory returns an Inventory backed by the given runner.
func NewInventory(runner subprocess.Runner, logger *slog.Logger) *Inventory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inventory{runner: runner, logger: logger}
}

// Capacity lists remaining quota for every connected DevHub.
func (inv *Inventory) Capacity(ctx context.Context) ([]HubCapacity, error) {
	result, err := inv.runner.Run(ctx, subprocess.Command{
		Argv:     []string{"sf", "org", "list", "--json"},
		Timeout:  30 * time.Second,
		WantJSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("listing orgs: %w", err)
	}
	payload, err := parseJSONOutput(result.Stdout)
	if err != nil {
		return nil, err
	}
	res, _ := payload["result"].(map[string]any)

	hubs := collectDevHubs(res)
	capacities := make([]HubCapacity, 0, len(hubs))
	for _, hub := range hubs {
		capacity, err := inv.hubLimits(ctx, hub)
		if err != nil {
			inv.logger.Warn("failed to query DevHub limits", "hub", hub.Alias, "error", err)
			continue
		}
		capacities = append(capacities, capacity)
	}
	return capacities, nil
}

// CheckFloor returns an error when total remaining daily capacity across all
// DevHubs is below floor, and also when the inventory cannot be read. The
// CLI refuses to start a run only on insufficient capacity and continues
// with a warning otherwise; it never aborts a run already started.
func (inv *Inventory) CheckFloor(ctx context.Context, floor int) error {
	if floor <= 0 {
		return nil
	}
	capacities, err := inv.Capacity(ctx)
	if err != nil {
		return fmt.Errorf("capacity inventory unavailable: %w", err)
	}
	total := 0
	for _, c := range capacities {
		total += c.DailyRemaining
	}
	if total < floor {
		return fmt.Errorf("insufficient scratch org capacity: %d daily remaining across %d DevHubs, need %d", total, len(capacities), floor)
	}
	inv.logger.Info("scratch org capacity check passed", "daily_remaining", total, "devhubs", len(capacities))
	return nil
}

type hubRef struct {
	Alias    string
	Username string
}

// collectDevHubs merges the devHubs list with nonScratchOrgs flagged isDevHub,
// matching the CLI registry's two reporting shapes.
func collectDevHubs(result map[string]any) []hubRef {
	var hubs []hubRef
	seen := make(map[string]bool)

	add := func(raw any) {
		org, _ := raw.(map[string]any)
		if org == nil {
			return
		}
		username, _ := org["username"].(string)
		alias, _ := org["alias"].(string)
		if alias == "" {
			alias = username
		}
		if alias == "" || seen[alias] {
			return
		}
		seen[alias] = true
		hubs = append(hubs, hubRef{Alias: alias, Username: username})
	}

	if devHubs, ok := result["devHubs"].([]any); ok {
		for _, raw := range devHubs {
			add(raw)
		}
	}
	if nonScratch, ok := result["nonScratchOrgs"].([]any); ok {
		for _, raw := range nonScratch {
			org, _ := raw.(map[string]any)
			if org == nil {
				continue
			}
			if isHub, _ := org["isDevHub"].(bool); isHub {
				add(raw)
			}
		}
	}
	return hubs
}

func (inv *Inventory) hubLimits(ctx context.Context, hub hubRef) (HubCapacity, error) {
	target := hub.Username
	if target == "" {
		target = hub.Alias
	}
	result, err := inv.runner.Run(ctx, subprocess.Command{
		Argv:     []string{"sf", "org", "list", "limits", "--target-org", target, "--json"},
		Timeout:  30 * time.Second,
		WantJSON: true,
	})
	if err != nil {
		return HubCapacity{}, err
	}
	payload, err := parseJSONOutput(result.Stdout)
	if err != nil {
		return HubCapacity{}, err
	}

	capacity := HubCapacity{Alias: hub.Alias, Username: hub.Username}
	limits, _ := payload["result"].([]any)
	for _, raw := range limits {
		limit, _ := raw.(map[string]any)
		if limit == nil {
			continue
		}
		name, _ := limit["name"].(string)
		max := intField(limit, "max")
		remaining := intField(limit, "remaining")
		switch name {
		case "DailyScratchOrgs":
			capacity.DailyMax, capacity.DailyRemaining = max, remaining
		case "ActiveScratchOrgs":
			capacity.ActiveMax, capacity.ActiveRemaining = max, remaining
		}
	}
	return capacity, nil
}

func intField(m map[string]any, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
}
