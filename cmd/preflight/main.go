// cmd/preflight/main.go
package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/hamed0406/urlmonitor/internal/config"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	if _, err := os.Stat(*cfgPath); err != nil {
		warn(*cfgPath + " not found; using defaults and environment only.")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	for _, e := range multierr.Errors(cfg.Validate()) {
		fail(e.Error())
	}

	ok("api.addr=" + cfg.API.Addr)
	if len(cfg.API.AllowedOrigins) == 0 {
		warn("api.allowed_origins empty; CORS allows every origin; websocket upgrades accept localhost only.")
	} else {
		ok("api.allowed_origins=" + strings.Join(cfg.API.AllowedOrigins, ","))
	}

	switch cfg.Database.Driver {
	case "memory":
		warn("database.driver=memory; history is lost on restart.")
	case "sqlite":
		dir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fail("database.path directory not writable: " + err.Error())
		} else {
			ok("sqlite at " + cfg.Database.Path)
		}
	case "postgres":
		if u, err := url.Parse(cfg.Database.URL); err != nil || u.Host == "" {
			fail("database.url is not a valid postgres URL")
		} else {
			ok("postgres at " + u.Redacted())
		}
	}
	ok(fmt.Sprintf("retention %d days, auto_cleanup=%t", cfg.Database.RetentionDays, cfg.Database.AutoCleanup))

	if cfg.Scheduler.Enabled {
		ok(fmt.Sprintf("scheduler %s (%s)", strings.Join(cfg.Scheduler.Times, ","), cfg.Scheduler.Timezone))
	} else {
		warn("scheduler disabled; checks run only on demand.")
	}
	ok(fmt.Sprintf("checker: %d attempts, %s timeout, concurrency %d",
		cfg.Checker.RetryAttempts+1, cfg.Checker.RequestTimeout, cfg.Checker.ConcurrentLimit))

	if cfg.Notify.SlackWebhook == "" {
		warn("notify.slack_webhook empty; failing cycles will not be reported.")
	} else if !strings.HasPrefix(cfg.Notify.SlackWebhook, "https://") {
		fail("notify.slack_webhook must be an https URL")
	} else {
		ok("slack notifications enabled")
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}
