// Command manage-tiers seeds and edits the subscription tiers that gate recurring meetings.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lib/pq"

	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
)

func main() {
	msg, err := run(context.Background(), os.Args[1:], defaultDeps())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(msg)
}

type deps struct {
	loadEnv func(...string) error
	getenv  func(string) string
	openDB  func(driverName, dataSourceName string) (*sql.DB, error)
}

func defaultDeps() deps {
	return deps{
		loadEnv: godotenv.Load,
		getenv:  os.Getenv,
		openDB:  sql.Open,
	}
}

type options struct {
	list       bool
	set        string
	deactivate string
	overwrite  bool
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("manage-tiers", flag.ContinueOnError)
	var o options
	fs.BoolVar(&o.list, "list", false, "Print the configured tiers and exit")
	fs.StringVar(&o.set, "set", "", "Set one tier's frequencies, e.g. -set pro=monthly,bi-weekly")
	fs.StringVar(&o.deactivate, "deactivate", "", "Mark a tier inactive")
	fs.BoolVar(&o.overwrite, "overwrite", false, "When seeding, reset existing tiers to the defaults")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

// parseAssignment reads "tier=f1,f2". An empty list is allowed and means no recurring meetings.
func parseAssignment(s string) (string, []meetings.Frequency, error) {
	tier, list, ok := strings.Cut(s, "=")
	tier = strings.ToLower(strings.TrimSpace(tier))
	if !ok || tier == "" {
		return "", nil, fmt.Errorf("invalid -set value %q (want tier=freq,freq)", s)
	}
	var freqs []meetings.Frequency
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		f := meetings.Frequency(strings.ToLower(raw))
		if !f.Valid() {
			return "", nil, fmt.Errorf("unknown frequency %q", raw)
		}
		freqs = append(freqs, f)
	}
	return tier, freqs, nil
}

func toStrings(freqs []meetings.Frequency) []string {
	out := make([]string, 0, len(freqs))
	for _, f := range freqs {
		out = append(out, string(f))
	}
	return out
}

func upsertTier(ctx context.Context, db *sql.DB, tier string, freqs []meetings.Frequency, overwrite bool) (bool, error) {
	q := `
		INSERT INTO public.subscription_plans (id, name, allowed_meeting_frequencies, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (id) DO NOTHING
	`
	if overwrite {
		q = `
			INSERT INTO public.subscription_plans (id, name, allowed_meeting_frequencies, is_active)
			VALUES ($1, $2, $3, true)
			ON CONFLICT (id) DO UPDATE SET
			  allowed_meeting_frequencies = EXCLUDED.allowed_meeting_frequencies,
			  is_active = true,
			  updated_at = NOW()
		`
	}
	res, err := db.ExecContext(ctx, q, tier, strings.ToUpper(tier[:1])+tier[1:], pq.Array(toStrings(freqs)))
	if err != nil {
		return false, fmt.Errorf("upsert tier %s: %w", tier, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func seed(ctx context.Context, db *sql.DB, overwrite bool) (string, error) {
	policy := meetings.DefaultTierPolicy()
	tiers := make([]string, 0, len(policy))
	for t := range policy {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)

	written := 0
	for _, t := range tiers {
		ok, err := upsertTier(ctx, db, t, policy[t], overwrite)
		if err != nil {
			return "", err
		}
		if ok {
			written++
			log.Printf("[Tiers] wrote tier=%s frequencies=%v", t, policy[t])
		}
	}
	if written == 0 {
		return "Tiers already exist, skipping insertion", nil
	}
	return fmt.Sprintf("Wrote %d of %d default tiers", written, len(tiers)), nil
}

func list(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, COALESCE(allowed_meeting_frequencies, '{}'), is_active
		FROM public.subscription_plans
		ORDER BY id
	`)
	if err != nil {
		return "", fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()
	var b strings.Builder
	for rows.Next() {
		var id string
		var freqs pq.StringArray
		var active bool
		if err := rows.Scan(&id, &freqs, &active); err != nil {
			return "", err
		}
		state := "active"
		if !active {
			state = "inactive"
		}
		fmt.Fprintf(&b, "%-12s %-8s %s\n", id, state, strings.Join(freqs, ","))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if b.Len() == 0 {
		return "No tiers configured", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func run(ctx context.Context, args []string, d deps) (string, error) {
	o, err := parseArgs(args)
	if err != nil {
		return "", err
	}
	var tier string
	var freqs []meetings.Frequency
	if o.set != "" {
		if tier, freqs, err = parseAssignment(o.set); err != nil {
			return "", err
		}
	}
	if d.loadEnv != nil {
		_ = d.loadEnv()
	}
	getenv := d.getenv
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	dbURL := getenv("DATABASE_URL")
	if dbURL == "" {
		return "", fmt.Errorf("DATABASE_URL not set")
	}
	if d.openDB == nil {
		return "", fmt.Errorf("openDB dependency is required")
	}
	db, err := d.openDB("postgres", dbURL)
	if err != nil {
		return "", fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	switch {
	case o.list:
		return list(ctx, db)
	case o.set != "":
		if _, err := upsertTier(ctx, db, tier, freqs, true); err != nil {
			return "", err
		}
		return fmt.Sprintf("Tier %s now allows %v", tier, toStrings(freqs)), nil
	case o.deactivate != "":
		id := strings.ToLower(strings.TrimSpace(o.deactivate))
		res, err := db.ExecContext(ctx, `UPDATE public.subscription_plans SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return "", fmt.Errorf("deactivate tier %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return "", fmt.Errorf("tier %s not found", id)
		}
		return fmt.Sprintf("Tier %s deactivated", id), nil
	}
	return seed(ctx, db, o.overwrite)
}
