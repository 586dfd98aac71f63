package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// ownerIDField is the foreign key hydration resolves on proxied records.
const ownerIDField = "userId"

// hydratedField is the name the resolved entity is attached under.
const hydratedField = "user"

// defaultAvatarURL is used for placeholder users.
const defaultAvatarURL = "/img/default-avatar.png"

// UserSummary is the resolved owner entity attached to hydrated records.
type UserSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

// Hydrator batch-resolves owner references in proxied responses against the
// user service. Enrichment is soft-fail: a lookup failure degrades to
// placeholder users and never fails the response carrying the core data.
type Hydrator struct {
	client         *http.Client
	userServiceURL string
	internalKey    string
}

// NewHydrator creates a Hydrator resolving users at userServiceURL.
func NewHydrator(userServiceURL, internalKey string, timeout time.Duration) *Hydrator {
	return &Hydrator{
		client:         &http.Client{Timeout: timeout},
		userServiceURL: userServiceURL,
		internalKey:    internalKey,
	}
}

// Hydrate scans body for records carrying an owner-id field, resolves the
// distinct set of ids with exactly one batched lookup, and attaches the
// resolved entity to each record. Ids missing from the batch result get a
// placeholder entity rather than no field at all. Any payload this layer
// does not understand is returned unchanged.
func (h *Hydrator) Hydrate(ctx context.Context, body []byte) []byte {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}

	records := collectRecords(payload)
	if len(records) == 0 {
		return body
	}

	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		id, ok := rec[ownerIDField].(string)
		if !ok || id == "" {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return body
	}

	// One batched call regardless of record count; a failure leaves the map
	// empty and every record degrades to a placeholder.
	resolved := h.resolve(ctx, ids)

	for _, rec := range records {
		id, ok := rec[ownerIDField].(string)
		if !ok || id == "" {
			continue
		}
		summary, ok := resolved[id]
		if !ok {
			summary = UserSummary{ID: id, Username: "Unknown user", AvatarURL: defaultAvatarURL}
		}
		rec[hydratedField] = summary
	}

	enriched, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return enriched
}

// collectRecords gathers every object carrying the owner-id field: the
// payload itself, elements of a top-level array, and elements of arrays one
// level down (list envelopes like {"recipes": [...]}).
func collectRecords(payload any) []map[string]any {
	var records []map[string]any

	appendIfRecord := func(v any) {
		if m, ok := v.(map[string]any); ok {
			if _, has := m[ownerIDField]; has {
				records = append(records, m)
			}
		}
	}

	switch v := payload.(type) {
	case []any:
		for _, item := range v {
			appendIfRecord(item)
		}
	case map[string]any:
		appendIfRecord(v)
		for _, field := range v {
			if list, ok := field.([]any); ok {
				for _, item := range list {
					appendIfRecord(item)
				}
			}
		}
	}
	return records
}

// resolve issues the single batched lookup. On any failure it logs and
// returns an empty map.
func (h *Hydrator) resolve(ctx context.Context, ids []string) map[string]UserSummary {
	lg := zctx.From(ctx)

	reqBody, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.userServiceURL+"/api/users/batch", bytes.NewReader(reqBody))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalKeyHeader, h.internalKey)

	resp, err := h.client.Do(req)
	if err != nil {
		lg.Warn("hydration lookup failed", zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		lg.Warn("hydration lookup rejected", zap.Int("status", resp.StatusCode))
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var users []UserSummary
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		lg.Warn("hydration lookup returned malformed body", zap.Error(err))
		return nil
	}

	resolved := make(map[string]UserSummary, len(users))
	for _, u := range users {
		resolved[u.ID] = u
	}
	return resolved
}
