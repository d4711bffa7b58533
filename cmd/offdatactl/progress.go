package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/rbrundritt/offline-data-manager/pkg/offdata"
)

func humanizeBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

var runCommand = cli.Command{
	Name:      "run",
	Usage:     "drive the download engine, rendering live progress until interrupted",
	UsageText: "offdatactl run [--concurrency n]",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "concurrency", Value: 2, Usage: "number of concurrent in-flight downloads"},
	},
	Action: run,
}

// barTracker renders one mpb bar per item that reaches progress.
type barTracker struct {
	mu   sync.Mutex
	p    *mpb.Progress
	bars map[string]*mpb.Bar
}

func newBarTracker(p *mpb.Progress) *barTracker {
	return &barTracker{p: p, bars: make(map[string]*mpb.Bar)}
}

func (t *barTracker) barFor(id string, total int64) *mpb.Bar {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bars[id]; ok {
		return b
	}
	style := mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")
	b := t.p.New(total, style,
		mpb.PrependDecorators(
			decor.Name(id, decor.WC{W: len(id) + 1, C: decor.DindentRight}),
			decor.OnComplete(decor.CountersKibiByte("% .2f / % .2f"), "done"),
		),
		mpb.AppendDecorators(decor.Percentage(decor.WC{W: 5})),
	)
	t.bars[id] = b
	return b
}

func run(ctx *cli.Context) error {
	mgr, cleanup, err := openManager()
	if err != nil {
		return err
	}
	defer cleanup()

	p := mpb.New(mpb.WithWidth(64))
	tracker := newBarTracker(p)

	unsubProgress := mgr.Events.On(offdata.TopicProgress, func(payload any) {
		pp := payload.(offdata.ProgressPayload)
		var total int64
		if pp.TotalBytes != nil {
			total = *pp.TotalBytes
		}
		bar := tracker.barFor(pp.ID, total)
		if total > 0 {
			bar.SetCurrent(pp.BytesDownloaded)
		}
	})
	unsubComplete := mgr.Events.On(offdata.TopicComplete, func(payload any) {
		cp := payload.(offdata.CompletePayload)
		fmt.Fprintf(p, "%s: complete (%s)\n", cp.ID, cp.MimeType)
	})
	unsubError := mgr.Events.On(offdata.TopicError, func(payload any) {
		ep := payload.(offdata.ErrorPayload)
		if !ep.WillRetry {
			fmt.Fprintf(p, "%s: failed: %s\n", ep.ID, ep.Err)
		}
	})
	unsubDeferred := mgr.Events.On(offdata.TopicDeferred, func(payload any) {
		dp := payload.(offdata.DeferredPayload)
		fmt.Fprintf(p, "%s: deferred (%s)\n", dp.ID, dp.Reason)
	})
	defer func() {
		unsubProgress()
		unsubComplete()
		unsubError()
		unsubDeferred()
	}()

	mgr.Start(ctx.Int("concurrency"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mgr.Stop(context.Background())
	p.Wait()
	return nil
}
