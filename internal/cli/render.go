package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/tehaksbrid/shop-databaser/internal/config"
	"github.com/tehaksbrid/shop-databaser/internal/models"
	"github.com/tehaksbrid/shop-databaser/internal/query"
)

var numbers = message.NewPrinter(language.English)

func renderStores(w io.Writer, stores []*models.Store) {
	if len(stores) == 0 {
		fmt.Fprintln(w, "No stores registered. Use 'shopdb register' to connect one.")
		return
	}
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	for _, s := range stores {
		tier := ""
		if s.IsPlusTier {
			tier = " " + cyan.Sprint("[plus]")
		}
		fmt.Fprintf(w, "%s %s%s\n", yellow.Sprint(shortID(s.UUID)), s.Name, tier)
		fmt.Fprintf(w, "    %s (since %s)\n", s.URL, s.RegisteredAt.UTC().Format(time.DateOnly))
	}
}

func renderStatus(w io.Writer, r *models.StatusReport) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	name, id := "unknown store", ""
	if r.Store != nil {
		name, id = r.Store.Name, shortID(r.Store.UUID)
	}
	fmt.Fprintf(w, "%s (%s)\n", bold.Sprint(name), id)

	state := r.State
	switch r.State {
	case "syncing":
		state = green.Sprint(state)
	case "disconnecting", "terminated":
		state = red.Sprint(state)
	default:
		state = yellow.Sprint(state)
	}
	fmt.Fprintf(w, "  %-15s %s\n", "State:", state)

	phase := r.Phase
	if r.Phase == "backfill" {
		phase = fmt.Sprintf("%s %.1f%% (step %d of %d)", r.Phase, r.SyncProgress(), r.Step, r.MaxSteps+1)
	}
	fmt.Fprintf(w, "  %-15s %s\n", "Phase:", phase)
	fmt.Fprintf(w, "  %-15s %s in %s files\n", "Objects:",
		numbers.Sprintf("%d", r.TotalObjects), numbers.Sprintf("%d", r.TotalFiles))
	for _, t := range models.DataTypes {
		fmt.Fprintf(w, "    %-13s %10s\n", t, numbers.Sprintf("%d", r.ObjectCounts[t]))
	}

	frag := fmt.Sprintf("%.2f", r.FragmentationFactor)
	if r.FragmentationFactor > 1.1 {
		frag = red.Sprint(frag)
	}
	fmt.Fprintf(w, "  %-15s %s\n", "Fragmentation:", frag)
	fmt.Fprintf(w, "  %-15s %s\n", "Disk usage:", humanize.Bytes(uint64(max(r.DiskUsage, 0))))
	fmt.Fprintf(w, "  %-15s %d%%\n", "API quota:", r.QuotaUsage)
	fmt.Fprintf(w, "  %-15s %s\n", "Reported:", r.GeneratedAt.UTC().Format(time.RFC3339))
}

// renderQuery writes the result records in format (json or yaml), preceded by
// a one-line summary unless quiet.
func renderQuery(w io.Writer, res *query.Result, format string, quiet bool) error {
	if !quiet {
		fmt.Fprintln(w, color.New(color.FgCyan).Sprintf("%s: %s records in %s (%s)",
			res.Type, numbers.Sprintf("%d", len(res.Records)), res.Duration.Round(time.Millisecond), res.Store.Name))
	}
	records := res.Records
	if records == nil {
		records = []models.Record{}
	}

	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

func renderConfig(w io.Writer, cfg *config.Config) {
	sections := []struct {
		name string
		v    any
	}{
		{"general", cfg.General},
		{"logging", cfg.Logging},
		{"queries", cfg.Queries},
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "[%s]\n", s.name)
		// Round-trip through JSON to list the options under their wire names.
		data, _ := json.Marshal(s.v)
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var fields map[string]any
		dec.Decode(&fields)
		for _, key := range slices.Sorted(maps.Keys(fields)) {
			fmt.Fprintf(w, "%s = %v\n", key, fields[key])
		}
	}
}
