package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli"

	"github.com/rbrundritt/offline-data-manager/pkg/offdata"
)

var registerCommand = cli.Command{
	Name:      "register",
	Aliases:   []string{"r"},
	Usage:     "register a file for download",
	ArgsUsage: "<id> <url>",
	Flags: []cli.Flag{
		cli.Int64Flag{Name: "version", Value: 1, Usage: "monotonic version; re-registering a higher value refreshes the payload"},
		cli.Int64Flag{Name: "ttl", Usage: "seconds after completion until the item expires (0 = never)"},
		cli.IntFlag{Name: "priority", Value: int(offdata.DefaultPriority), Usage: "lower starts earlier"},
		cli.BoolFlag{Name: "protected", Usage: "survive a deleteAllFiles(removeProtected=false)"},
		cli.Int64Flag{Name: "total-bytes", Usage: "size hint used for the storage precheck before each download attempt"},
	},
	Action: register,
}

func register(ctx *cli.Context) error {
	id := ctx.Args().Get(0)
	url := ctx.Args().Get(1)
	if id == "" || url == "" {
		return cli.NewExitError("offdatactl: register requires <id> <url>", 1)
	}
	mgr, cleanup, err := openManager()
	if err != nil {
		return err
	}
	defer cleanup()

	priority := offdata.Priority(ctx.Int("priority"))
	in := offdata.FileRegistration{
		ID:          id,
		DownloadURL: url,
		Version:     ctx.Int64("version"),
		TTLSeconds:  ctx.Int64("ttl"),
		Priority:    &priority,
		Protected:   ctx.Bool("protected"),
	}
	if v := ctx.Int64("total-bytes"); v > 0 {
		in.TotalBytes = &v
	}
	if err := mgr.RegisterFile(context.Background(), in); err != nil {
		return cli.NewExitError(fmt.Sprintf("offdatactl: %s", err), 1)
	}
	fmt.Printf("registered %s\n", id)
	return nil
}

var listCommand = cli.Command{
	Name:    "list",
	Aliases: []string{"l"},
	Usage:   "list every registered item and its status",
	Action:  list,
}

func list(ctx *cli.Context) error {
	mgr, cleanup, err := openManager()
	if err != nil {
		return err
	}
	defer cleanup()

	views, summary, err := mgr.GetAllStatus(context.Background())
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("offdatactl: %s", err), 1)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPERCENT\tBYTES\tPRIORITY")
	for _, v := range views {
		fmt.Fprintln(w, strings.Join([]string{v.ID, string(v.Status), percentString(v.Percent), byteString(v.BytesDownloaded), fmt.Sprintf("%d", v.Priority)}, "\t"))
	}
	w.Flush()
	if summary != nil {
		fmt.Printf("storage: %s used of %s (%s available)\n",
			humanizeBytes(summary.UsageBytes), humanizeBytes(summary.QuotaBytes), humanizeBytes(summary.AvailableBytes))
	}
	return nil
}

var statusCommand = cli.Command{
	Name:      "status",
	Aliases:   []string{"s"},
	Usage:     "show the detailed status of one item",
	ArgsUsage: "<id>",
	Action:    status,
}

func status(ctx *cli.Context) error {
	id := ctx.Args().Get(0)
	if id == "" {
		return cli.NewExitError("offdatactl: status requires <id>", 1)
	}
	mgr, cleanup, err := openManager()
	if err != nil {
		return err
	}
	defer cleanup()

	view, err := mgr.GetStatus(context.Background(), id)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("offdatactl: %s", err), 1)
	}
	if view == nil {
		return cli.NewExitError(fmt.Sprintf("offdatactl: %q is not registered", id), 1)
	}
	fmt.Printf("%s\n", view)
	if view.ErrorMessage != nil {
		fmt.Printf("error: %s\n", *view.ErrorMessage)
	}
	if view.DeferredReason != nil {
		fmt.Printf("deferred: %s\n", *view.DeferredReason)
	}
	return nil
}

var deleteCommand = cli.Command{
	Name:      "delete",
	Aliases:   []string{"d"},
	Usage:     "delete one or every registered item",
	ArgsUsage: "<id>|--all",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "all", Usage: "delete every registered item"},
		cli.BoolFlag{Name: "force", Usage: "also remove protected items"},
	},
	Action: deleteFile,
}

func deleteFile(ctx *cli.Context) error {
	mgr, cleanup, err := openManager()
	if err != nil {
		return err
	}
	defer cleanup()

	background := context.Background()
	if ctx.Bool("all") {
		if err := mgr.DeleteAllFiles(background, ctx.Bool("force")); err != nil {
			return cli.NewExitError(fmt.Sprintf("offdatactl: %s", err), 1)
		}
		fmt.Println("deleted all")
		return nil
	}
	id := ctx.Args().Get(0)
	if id == "" {
		return cli.NewExitError("offdatactl: delete requires <id> or --all", 1)
	}
	if err := mgr.DeleteFile(background, id, ctx.Bool("force")); err != nil {
		return cli.NewExitError(fmt.Sprintf("offdatactl: %s", err), 1)
	}
	fmt.Printf("deleted %s\n", id)
	return nil
}

var getCommand = cli.Command{
	Name:      "get",
	Usage:     "write a ready item's payload to a file",
	ArgsUsage: "<id> <outPath>",
	Action:    get,
}

func get(ctx *cli.Context) error {
	id := ctx.Args().Get(0)
	out := ctx.Args().Get(1)
	if id == "" || out == "" {
		return cli.NewExitError("offdatactl: get requires <id> <outPath>", 1)
	}
	mgr, cleanup, err := openManager()
	if err != nil {
		return err
	}
	defer cleanup()

	data, mime, err := mgr.Retrieve(context.Background(), id)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("offdatactl: %s", err), 1)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return cli.NewExitError(fmt.Sprintf("offdatactl: write %s: %v", out, err), 1)
	}
	fmt.Printf("wrote %d bytes (%s) to %s\n", len(data), mime, out)
	return nil
}

func percentString(p *int) string {
	if p == nil {
		return "?"
	}
	return fmt.Sprintf("%d%%", *p)
}

func byteString(n int64) string {
	return humanizeBytes(n)
}
