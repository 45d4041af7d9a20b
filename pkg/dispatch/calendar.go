package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CalendarProvider mirrors delivered output as calendar events. The
// implementation lives outside this core.
type CalendarProvider interface {
	UpsertEvent(ctx context.Context, eventID, userID, title, body string) error
}

// CalendarEventID derives a deterministic event id from the delivery's
// composite key. The hour bucket makes re-deliveries within the same hour
// collapse onto one event while later re-runs get their own.
func CalendarEventID(input Input, at time.Time) string {
	run := input.RunID
	if run == "" {
		run = input.RunKey
	}

	composite := strings.Join([]string{
		input.UserID,
		input.ScheduleID,
		run,
		input.NodeID,
		fmt.Sprintf("%d", input.OutputIndex),
		string(input.Channel),
		at.UTC().Format("2006010215"),
	}, "|")

	sum := sha256.Sum256([]byte(composite))

	return hex.EncodeToString(sum[:16])
}

// mirrorToCalendar is best-effort: failures are logged and swallowed so
// they never affect the dispatch outcome.
func (d *Dispatcher) mirrorToCalendar(ctx context.Context, input Input) {
	if d.calendar == nil || input.UserID == "" {
		return
	}

	eventID := CalendarEventID(input, time.Now())

	title := "Mission output"
	if input.Metadata != nil && input.Metadata["mission_name"] != "" {
		title = input.Metadata["mission_name"]
	}

	if err := d.calendar.UpsertEvent(ctx, eventID, input.UserID, title, input.Text); err != nil {
		d.logger.Warn("calendar mirror failed",
			"event_id", eventID,
			"user_id", input.UserID,
			"error", err,
		)
	}
}
