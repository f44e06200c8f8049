// ABOUTME: Operator CLI for provisioning and managing agent credentials
// ABOUTME: Prints the full key exactly once at creation time

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/rentware/device-gateway/internal/credential"
	"github.com/rentware/device-gateway/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = cmdCreate(os.Args[2:])
	case "list":
		err = cmdList(os.Args[2:])
	case "revoke":
		err = cmdRevoke(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: device-admin <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  create --db PATH --tenant ID --agent ID --name NAME [--expires-days N] [--allow-ip IP]")
	fmt.Println("  list   --db PATH --tenant ID")
	fmt.Println("  revoke --db PATH --id CREDENTIAL_ID")
}

func cmdCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dbPath := fs.String("db", "gateway.db", "path to the gateway database")
	tenantID := fs.String("tenant", "", "tenant id")
	agentID := fs.String("agent", "", "agent id")
	name := fs.String("name", "", "human-readable credential name")
	expiresDays := fs.Int("expires-days", 0, "days until expiry (0 = never)")
	allowIP := fs.String("allow-ip", "", "comma-separated IP allow-list (empty = any)")
	fs.Parse(args)

	if *tenantID == "" || *agentID == "" || *name == "" {
		return fmt.Errorf("--tenant, --agent and --name are required")
	}

	db, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	gen, err := credential.GenerateKey()
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if *expiresDays > 0 {
		t := time.Now().AddDate(0, 0, *expiresDays).UTC()
		expiresAt = &t
	}

	cred := credential.NewCredential(*tenantID, *agentID, *name, gen, expiresAt)
	if *allowIP != "" {
		cred.AllowedIPs = splitIPs(*allowIP)
	}

	if err := db.CreateCredential(context.Background(), cred); err != nil {
		return err
	}

	color.Green("credential created: %s", cred.ID)
	fmt.Println()
	fmt.Println("Agent key (shown once, store it now):")
	color.Yellow("  %s", gen.Key)
	return nil
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", "gateway.db", "path to the gateway database")
	tenantID := fs.String("tenant", "", "tenant id")
	fs.Parse(args)

	if *tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}

	db, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	creds, err := db.ListCredentials(context.Background(), *tenantID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tKEY\tNAME\tACTIVE\tUSES\tLAST USED")
	for _, c := range creds {
		lastUsed := "never"
		if c.LastUsedAt != nil {
			lastUsed = c.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%d\t%s\n",
			c.ID, c.AgentID, c.MaskedKey(), c.Name, c.Active, c.UsageCount, lastUsed)
	}
	return w.Flush()
}

func cmdRevoke(args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	dbPath := fs.String("db", "gateway.db", "path to the gateway database")
	id := fs.String("id", "", "credential id")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	db, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	cred, err := db.GetCredential(context.Background(), *id)
	if err != nil {
		return err
	}
	cred.Active = false
	if err := db.UpdateCredential(context.Background(), cred); err != nil {
		return err
	}

	color.Green("credential revoked: %s (%s)", cred.ID, cred.MaskedKey())
	return nil
}

func splitIPs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if ip := strings.TrimSpace(part); ip != "" {
			out = append(out, ip)
		}
	}
	return out
}
