package medlink

import (
	"context"
	"sort"
	"time"
)

// ============================================================================
// Summary aggregation
// ============================================================================

// Rows turns the cached conversation summaries into display-ready rows: the
// counterpart identity resolved to a profile, the last-activity timestamp
// bucketed into a contextual label, and rows sorted by last activity
// descending.
//
// An identity lookup failure degrades to the raw identity value for that
// row rather than failing the whole list. Unread is approximated as "the
// last sender was not me"; there is no read-receipt model.
func (s *ChatStore) Rows(ctx context.Context) []ConversationRow {
	summaries := s.Summaries()
	rows := make([]ConversationRow, 0, len(summaries))

	for _, sum := range summaries {
		partnerID := counterpart(sum.Participants, s.selfID)
		row := ConversationRow{
			ID:            sum.ID,
			PartnerID:     partnerID,
			PartnerName:   partnerID,
			LastMessage:   sum.LastMessage,
			Label:         formatLastActivity(s.clock(), sum.LastMessageAt),
			Unread:        sum.LastSender != s.selfID,
			Online:        s.IsOnline(partnerID),
			lastMessageAt: sum.LastMessageAt,
		}

		profile, err := s.client.Users().GetByID(ctx, partnerID)
		if err != nil {
			s.logger.Warn("identity lookup failed, using raw id", "id", partnerID, "error", err)
		} else {
			row.PartnerName = profile.Name
			row.Avatar = profile.Avatar
			row.Verified = profile.Verified
		}

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].lastMessageAt > rows[j].lastMessageAt
	})
	return rows
}

// counterpart returns the participant that is not self. Falls back to the
// first participant when self is not in the pair (should not happen, but a
// malformed record must not panic the list).
func counterpart(participants []string, selfID string) string {
	for _, p := range participants {
		if p != selfID {
			return p
		}
	}
	if len(participants) > 0 {
		return participants[0]
	}
	return ""
}

// formatLastActivity buckets a timestamp into a contextual label:
// time-of-day if today, weekday if within the last week, month/day
// otherwise. Unparseable timestamps are returned as-is.
func formatLastActivity(now time.Time, ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return ts
		}
	}
	t = t.In(now.Location())

	y1, m1, d1 := now.Date()
	y2, m2, d2 := t.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return t.Format("3:04 PM")
	}
	if now.Sub(t) < 7*24*time.Hour {
		return t.Format("Monday")
	}
	return t.Format("Jan 2")
}

// ============================================================================
// Summary polling
// ============================================================================

// StartPolling refreshes the conversation summaries immediately and then on
// a fixed interval until Close is called. Summaries are fetched in bulk
// rather than pushed, so staleness up to one interval is expected.
func (s *ChatStore) StartPolling(ctx context.Context) {
	_ = s.FetchConversations(ctx)
	go s.pollLoop(ctx)
}

func (s *ChatStore) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.FetchConversations(ctx)
		}
	}
}
