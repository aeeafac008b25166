package jobstore

import (
	"fmt"

	"github.com/aaron-0406/lolo-cej-scraping/internal/clock"
)

// DedupKey builds the spec §4.2 dedup key for lane. PRIORITY jobs
// never dedup — each manual request gets a unique unix-millis suffix
// instead of a calendar day.
func DedupKey(c clock.Clock, lane string, caseFileID int64) string {
	switch lane {
	case "PRIORITY":
		return fmt.Sprintf("priority:%d:%d", caseFileID, c.Now().UnixMilli())
	case "INITIAL":
		return fmt.Sprintf("initial:%d:%s", caseFileID, clock.DayKey(c, c.Now()))
	default: // MONITOR
		return fmt.Sprintf("monitor:%d:%s", caseFileID, clock.DayKey(c, c.Now()))
	}
}
