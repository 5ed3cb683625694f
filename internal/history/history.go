// Package history stores per-user payment outcomes and answers the rolling
// window queries the scorers need.
package history

import (
	"context"
	"slices"
	"time"

	"github.com/mbd888/riskgate/internal/risk"
)

// Status of a recorded payment.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Entry is one recorded payment outcome. Amount is in minor units.
type Entry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Method        string    `json:"method"`
	Status        Status    `json:"status"`
	TransactionID string    `json:"transactionId,omitempty"`
	At            time.Time `json:"at"`
}

// Store is append-only. Query returns a user's entries at or after since,
// oldest first.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, userID string, since time.Time) ([]Entry, error)
}

// Successful filters entries to the successful ones for userID.
func Successful(entries []Entry, userID string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Status == StatusSuccess && e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// Summarize builds the scorer view of a user's successful history.
func Summarize(entries []Entry, userID string, now time.Time) risk.HistorySummary {
	ok := Successful(entries, userID)
	var sum risk.HistorySummary
	if len(ok) == 0 {
		return sum
	}

	var total int64
	hourAgo := now.Add(-time.Hour)
	for _, e := range ok {
		total += e.Amount
		if e.At.After(sum.LastAt) {
			sum.LastAt = e.At
		}
		if !slices.Contains(sum.Methods, e.Method) {
			sum.Methods = append(sum.Methods, e.Method)
		}
		if e.At.After(hourAgo) && !e.At.After(now) {
			sum.LastHourCount++
		}
	}
	slices.Sort(sum.Methods)
	sum.Count = len(ok)
	sum.AverageAmount = total / int64(len(ok))
	return sum
}
