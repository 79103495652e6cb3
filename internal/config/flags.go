package config

import (
	"flag"
	"os"
	"time"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   path of the local database file
//	-i int      outbox drain interval in seconds
//	-r int      trash retention window in days
//	-l string   path of a legacy JSON export to import on startup
func parseFlags(cfg *Config) {
	fs := flag.NewFlagSet("notesyncd", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path of the local database file")
	drainInterval := fs.Int("i", int(cfg.DrainInterval.Seconds()), "outbox drain interval (in seconds)")
	fs.IntVar(&cfg.RetentionDays, "r", cfg.RetentionDays, "trash retention window (in days)")
	fs.StringVar(&cfg.LegacyImportPath, "l", cfg.LegacyImportPath, "path of a legacy JSON export to import on startup")

	if err := fs.Parse(os.Args[1:]); err != nil {
		panic(err)
	}

	cfg.DrainInterval = time.Duration(*drainInterval) * time.Second
}
