// Command offdatactl is a thin CLI over pkg/offdata, exercising the public
// Manager surface end to end against a SQLite-backed store rooted in the
// user's config directory.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/urfave/cli"

	"github.com/rbrundritt/offline-data-manager/pkg/logger"
	"github.com/rbrundritt/offline-data-manager/pkg/offdata"
)

var dbPath string

func dataDir() string {
	if u, err := user.Current(); err == nil && u.HomeDir != "" {
		return filepath.Join(u.HomeDir, ".config", "offdata")
	}
	return "."
}

// openManager wires a Manager against the on-disk SQLite store and a quota
// probe rooted at the same directory, so state survives across process
// restarts.
func openManager() (*offdata.Manager, func(), error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("offdatactl: create %s: %w", dir, err)
	}
	store, err := offdata.OpenSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, err
	}
	probe := offdata.NewDiskStorageProbe(dir, 0)
	conn := offdata.NewPollingConnectivity("1.1.1.1:443", 10*time.Second)
	conn.Start()
	mgr := offdata.New(offdata.ManagerOptions{
		Store:        store,
		Probe:        probe,
		Connectivity: conn,
		Router:       offdata.NewSchemeRouter(),
		Logger:       logger.NewStandardLogger(log.New(os.Stderr, "offdatactl: ", log.LstdFlags)),
	})
	if err := mgr.Registry.LoadInsertionSequence(context.Background()); err != nil {
		conn.Stop()
		store.Close()
		return nil, nil, fmt.Errorf("offdatactl: load insertion sequence: %w", err)
	}
	cleanup := func() {
		conn.Stop()
		store.Close()
	}
	return mgr, cleanup, nil
}

func main() {
	app := cli.App{
		Name:      "offdatactl",
		HelpName:  "offdatactl",
		Usage:     "register, track and retrieve offline downloads",
		UsageText: "offdatactl <command> [arguments...]",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:        "db",
				Usage:       "path to the sqlite store",
				Value:       filepath.Join(dataDir(), "offdata.db"),
				Destination: &dbPath,
			},
		},
		Commands: []cli.Command{
			registerCommand,
			listCommand,
			statusCommand,
			getCommand,
			deleteCommand,
			runCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "offdatactl: %s\n", err)
		os.Exit(1)
	}
}
