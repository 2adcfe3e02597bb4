// cmd/preflight/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hamed0406/noticerelay/internal/config"
	"github.com/hamed0406/noticerelay/internal/source"
)

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	probe := flag.Bool("probe", false, "fetch every competition once")
	flag.Parse()

	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	if _, err := os.Stat(*cfgPath); err != nil {
		warn(*cfgPath + " not found; relying on NOTICERELAY_* environment only.")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail(err.Error())
	}
	ok("config valid")
	ok("platform=" + cfg.Platform.BaseURL)
	for _, c := range cfg.Competitions() {
		ok(fmt.Sprintf("competition %d (%s)", c.ID, c.DisplayName()))
	}
	ok("notifier=" + cfg.Notify.Kind)

	if cfg.Platform.InsecureTLS {
		warn("platform.insecure_tls is on; certificates are not verified.")
	}

	switch cfg.Queue.Driver {
	case "postgres":
		ok("queue=postgres")
	default:
		ok("queue=" + cfg.Queue.Driver + " path=" + cfg.Queue.Path)
		if _, err := os.Stat(cfg.Queue.Path); err == nil {
			warn(cfg.Queue.Path + " exists; its items will be re-driven at startup.")
		}
	}

	if cfg.API.Addr == "" {
		warn("api.addr is empty; ops API disabled.")
	} else {
		ok("api.addr=" + cfg.API.Addr)
		if len(cfg.API.AdminKeys) == 0 {
			warn("api.admin_keys is empty; /api/queue is open.")
		}
		for name, keys := range map[string][]string{"api.admin_keys": cfg.API.AdminKeys, "api.public_keys": cfg.API.PublicKeys} {
			for _, k := range keys {
				if strings.TrimSpace(k) != k {
					warn(name + " has a key with surrounding spaces")
				}
			}
		}
	}

	if *probe {
		src := source.NewHTTPSource(cfg.Platform.BaseURL, cfg.Platform.Timeout, cfg.Platform.InsecureTLS, nil)
		for _, c := range cfg.Competitions() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Platform.Timeout+time.Second)
			list, err := src.Fetch(ctx, c.ID)
			cancel()
			if err != nil {
				fail(err.Error())
			}
			ok(fmt.Sprintf("competition %d: %d notices", c.ID, len(list)))
		}
	}

	ok("preflight passed")
}
