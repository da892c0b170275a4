// Command purge-expired deletes tenants whose access key has expired. It is
// meant for when the server is down; a running server's reconciler does the
// same sweep and also tears down live bot sessions, which this tool cannot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/pscheid92/giftclaim/internal/adapter/postgres"
	"github.com/pscheid92/giftclaim/internal/platform/correlation"
	"github.com/pscheid92/giftclaim/internal/platform/crypto"
	"github.com/pscheid92/giftclaim/internal/platform/logging"
)

type expiredStore interface {
	ListExpiredKeys(ctx context.Context, now time.Time) ([]string, error)
	Delete(ctx context.Context, accessKey string) (bool, error)
}

type purgeReport struct {
	Expired int
	Deleted int
	Failed  int
}

func main() {
	var (
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		dryRun      = flag.Bool("dry-run", false, "List expired tenants without deleting them")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("Database URL required (--database or DATABASE_URL env)")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, "text")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := postgres.Connect(ctx, *databaseURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	slog.Info("Connected to database", "url", sanitizeURL(*databaseURL))

	// Credentials are never opened here.
	repo := postgres.NewTenantRepo(pool, crypto.Plaintext{})

	report, err := purge(ctx, repo, time.Now(), *dryRun)
	if err != nil {
		log.Fatalf("Purge failed: %v", err)
	}

	slog.Info("Purge summary",
		"dry_run", *dryRun,
		"expired", report.Expired,
		"deleted", report.Deleted,
		"failed", report.Failed)
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func purge(ctx context.Context, store expiredStore, now time.Time, dryRun bool) (purgeReport, error) {
	var report purgeReport

	keys, err := store.ListExpiredKeys(ctx, now)
	if err != nil {
		return report, fmt.Errorf("list expired tenants: %w", err)
	}
	report.Expired = len(keys)

	for _, key := range keys {
		if dryRun {
			slog.Info("Would delete tenant", "tenant", correlation.Mask(key))
			continue
		}

		deleted, err := store.Delete(ctx, key)
		if err != nil {
			slog.Warn("Failed to delete tenant", "tenant", correlation.Mask(key), "error", err)
			report.Failed++
			continue
		}
		if deleted {
			slog.Debug("Deleted tenant", "tenant", correlation.Mask(key))
			report.Deleted++
		}
	}

	return report, nil
}

// sanitizeURL hides the password for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
