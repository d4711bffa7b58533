package offdata

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// String renders a human-readable one-liner for logs and CLI output, e.g.
// "a: in-progress 4.2 MB/12 MB (35%)".
func (v StatusView) String() string {
	downloaded := humanize.Bytes(uint64(v.BytesDownloaded))
	if v.TotalBytes == nil {
		return fmt.Sprintf("%s: %s %s", v.ID, v.Status, downloaded)
	}
	total := humanize.Bytes(uint64(*v.TotalBytes))
	if v.Percent == nil {
		return fmt.Sprintf("%s: %s %s/%s", v.ID, v.Status, downloaded, total)
	}
	return fmt.Sprintf("%s: %s %s/%s (%d%%)", v.ID, v.Status, downloaded, total, *v.Percent)
}
