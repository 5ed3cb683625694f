package risk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mbd888/riskgate/internal/kvstore"
)

// KVStore keeps the audit trail as capped JSON lists in a kvstore.Store,
// keyed "audit:<userID>".
type KVStore struct {
	kv kvstore.Store
}

// NewKVStore creates an audit store over kv.
func NewKVStore(kv kvstore.Store) *KVStore {
	return &KVStore{kv: kv}
}

func auditKey(userID string) string {
	return "audit:" + userID
}

func (s *KVStore) Record(ctx context.Context, a *Assessment) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}
	if err := s.kv.Append(ctx, auditKey(a.UserID), string(raw), MaxAuditEntriesPerUser); err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

func (s *KVStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Assessment, error) {
	if limit <= 0 || limit > MaxAuditEntriesPerUser {
		limit = MaxAuditEntriesPerUser
	}
	vals, err := s.kv.List(ctx, auditKey(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}

	result := make([]*Assessment, 0, len(vals))
	for _, v := range vals {
		var a Assessment
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			continue
		}
		result = append(result, &a)
	}
	return result, nil
}
