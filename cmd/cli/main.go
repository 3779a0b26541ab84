package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := newAPIClient(getAPIURL(), os.Getenv("SITE_FACTORY_TOKEN"))
	if err := run(ctx, c, os.Stdout, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *apiClient, out io.Writer, command string, args []string) error {
	switch command {
	case "site":
		return handleSite(ctx, c, out, args)
	case "templates":
		return listTemplates(ctx, c, out)
	case "admin":
		return handleAdmin(ctx, c, out, args)
	case "help":
		printUsage(out)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func handleSite(ctx context.Context, c *apiClient, out io.Writer, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sitefactory site <create|status>")
	}

	switch args[0] {
	case "create":
		return createSite(ctx, c, out, args[1:])
	case "status":
		return siteStatus(ctx, c, out, args[1:])
	default:
		return fmt.Errorf("unknown site command: %s", args[0])
	}
}

func handleAdmin(ctx context.Context, c *apiClient, out io.Writer, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sitefactory admin <block|unblock|stats|audit>")
	}

	switch args[0] {
	case "block":
		return blockIP(ctx, c, out, args[1:])
	case "unblock":
		return unblockIP(ctx, c, out, args[1:])
	case "stats":
		return securityStats(ctx, c, out)
	case "audit":
		return auditLog(ctx, c, out, args[1:])
	default:
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

// Site commands
func createSite(ctx context.Context, c *apiClient, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	name := fs.String("name", "", "business name")
	email := fs.String("email", "", "administrator email")
	phone := fs.String("phone", "", "phone number")
	address := fs.String("address", "", "street address")
	businessType := fs.String("type", "", "business type")
	description := fs.String("description", "", "tagline / description")
	template := fs.String("template", "", "blueprint id (see: sitefactory templates)")
	slug := fs.String("slug", "", "desired site slug")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *email == "" {
		fs.PrintDefaults()
		return fmt.Errorf("name and email are required")
	}

	payload := map[string]string{"businessName": *name, "email": *email}
	for k, v := range map[string]string{
		"phone":        *phone,
		"address":      *address,
		"businessType": *businessType,
		"description":  *description,
		"blueprint":    *template,
		"desiredSlug":  *slug,
	} {
		if v != "" {
			payload[k] = v
		}
	}

	var result struct {
		SiteID   int64  `json:"siteId"`
		SiteURL  string `json:"siteUrl"`
		AdminURL string `json:"adminUrl"`
		Message  string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/create-site", payload, &result); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ %s (site %d)\n  site:  %s\n  admin: %s\n", result.Message, result.SiteID, result.SiteURL, result.AdminURL)
	return nil
}

func siteStatus(ctx context.Context, c *apiClient, out io.Writer, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sitefactory site status <site-id>")
	}
	if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
		return fmt.Errorf("invalid site id %q", args[0])
	}

	var st struct {
		SiteID       int64             `json:"siteId"`
		Slug         string            `json:"slug"`
		Status       string            `json:"status"`
		SiteURL      string            `json:"siteUrl"`
		Blueprint    string            `json:"blueprint"`
		BusinessMeta map[string]string `json:"businessMeta"`
		FailReason   string            `json:"failReason"`
		UpdatedAt    time.Time         `json:"updatedAt"`
	}
	if err := c.do(ctx, http.MethodGet, "/site-status/"+args[0], nil, &st); err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SITE\t%d\n", st.SiteID)
	fmt.Fprintf(w, "SLUG\t%s\n", st.Slug)
	fmt.Fprintf(w, "STATUS\t%s\n", st.Status)
	fmt.Fprintf(w, "URL\t%s\n", st.SiteURL)
	fmt.Fprintf(w, "BLUEPRINT\t%s\n", st.Blueprint)
	if st.FailReason != "" {
		fmt.Fprintf(w, "REASON\t%s\n", st.FailReason)
	}
	fmt.Fprintf(w, "UPDATED\t%s\n", st.UpdatedAt.Format(time.RFC3339))
	if name := st.BusinessMeta["businessName"]; name != "" {
		fmt.Fprintf(w, "BUSINESS\t%s\n", name)
	}
	return w.Flush()
}

func listTemplates(ctx context.Context, c *apiClient, out io.Writer) error {
	var result struct {
		Templates []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"templates"`
	}
	if err := c.do(ctx, http.MethodGet, "/templates", nil, &result); err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, t := range result.Templates {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Name, t.Description)
	}
	return w.Flush()
}

// Admin commands
func blockIP(ctx context.Context, c *apiClient, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("block", flag.ContinueOnError)
	reason := fs.String("reason", "manual", "reason recorded in the audit log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: sitefactory admin block [-reason r] <ip>")
	}
	ip := fs.Arg(0)
	if err := c.do(ctx, http.MethodPost, "/api/admin/blocklist", map[string]string{"ip": ip, "reason": *reason}, nil); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ blocked %s\n", ip)
	return nil
}

func unblockIP(ctx context.Context, c *apiClient, out io.Writer, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sitefactory admin unblock <ip>")
	}
	if err := c.do(ctx, http.MethodDelete, "/api/admin/blocklist/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ unblocked %s\n", args[0])
	return nil
}

func securityStats(ctx context.Context, c *apiClient, out io.Writer) error {
	var stats struct {
		BlockedCount int `json:"blockedCount"`
		Blocked      []struct {
			IP        string    `json:"ip"`
			Reason    string    `json:"reason"`
			BlockedAt time.Time `json:"blockedAt"`
		} `json:"blocked"`
		Window      int `json:"window"`
		MaxRequests int `json:"maxRequests"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/security/stats", nil, &stats); err != nil {
		return err
	}

	fmt.Fprintf(out, "rate limit: %d requests per %s\n", stats.MaxRequests, time.Duration(stats.Window)*time.Second)
	fmt.Fprintf(out, "blocked addresses: %d\n", stats.BlockedCount)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IP\tREASON\tBLOCKED AT")
	for _, b := range stats.Blocked {
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.IP, b.Reason, b.BlockedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func auditLog(ctx context.Context, c *apiClient, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	limit := fs.Int("limit", 100, "number of records")
	follow := fs.Bool("follow", false, "stream new records as they are written")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *follow {
		return c.follow(ctx, func(rec json.RawMessage) {
			fmt.Fprintln(out, string(rec))
		})
	}

	var result struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/audit/recent?limit="+strconv.Itoa(*limit), nil, &result); err != nil {
		return err
	}
	for _, rec := range result.Records {
		fmt.Fprintln(out, string(rec))
	}
	return nil
}

// Helper functions
func getAPIURL() string {
	if u := os.Getenv("SITE_FACTORY_API"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Site Factory CLI

Usage:
  sitefactory <command> [options]

Commands:
  site       Site operations (create, status)
  templates  List available blueprints
  admin      Operator commands (block, unblock, stats, audit)
  help       Show this help message

Environment Variables:
  SITE_FACTORY_API      API endpoint (default: http://localhost:8080)
  SITE_FACTORY_TOKEN    Shared bearer token

Examples:
  sitefactory site create -name "Acme Corp" -email owner@acme.test -template cpa-onepage
  sitefactory site status 42
  sitefactory admin block -reason spam 198.51.100.7
  sitefactory admin audit -follow
`)
}
