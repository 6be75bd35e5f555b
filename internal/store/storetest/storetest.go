// Package storetest provides an in-memory Store for tests.
package storetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vizulabs-com/vizpilot-mcp/internal/store"
)

// ViewRecord captures one RecordView call.
type ViewRecord struct {
	UserID     string
	ProtocolID string
	APIKeyID   string
}

// Fake is an in-memory catalog store. The zero value is unusable; call New.
type Fake struct {
	mu sync.Mutex

	Users         map[string]*store.User // by user id
	KeysByHash    map[string]*store.APIKey
	Subscriptions map[string]*store.Subscription // by user id
	TechList      []store.Technology
	ProtocolList  []store.Protocol
	Rules         map[string][]store.SteeringRule // by technology slug
	Usage         map[string]*store.DailyUsage    // by user id

	Views      []ViewRecord
	AccessLogs []store.AccessLogEntry

	// Err, when set, is returned by every operation; simulates an
	// unavailable store.
	Err error
}

// New creates an empty fake store.
func New() *Fake {
	return &Fake{
		Users:         make(map[string]*store.User),
		KeysByHash:    make(map[string]*store.APIKey),
		Subscriptions: make(map[string]*store.Subscription),
		Rules:         make(map[string][]store.SteeringRule),
		Usage:         make(map[string]*store.DailyUsage),
	}
}

func (f *Fake) ResolveAPIKey(ctx context.Context, keyHash string) (*store.User, *store.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, nil, f.Err
	}

	key, ok := f.KeysByHash[keyHash]
	if !ok || !key.IsActive || key.RevokedAt != nil {
		return nil, nil, &store.NotFoundError{Resource: "api key"}
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, nil, &store.NotFoundError{Resource: "api key"}
	}

	user, ok := f.Users[key.UserID]
	if !ok {
		return nil, nil, &store.NotFoundError{Resource: "api key"}
	}
	return user, key, nil
}

func (f *Fake) ActiveSubscription(ctx context.Context, userID string) (*store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	sub, ok := f.Subscriptions[userID]
	if !ok || (sub.Status != "active" && sub.Status != "trialing") {
		return nil, &store.NotFoundError{Resource: "subscription", Key: userID}
	}
	return sub, nil
}

func (f *Fake) Technologies(ctx context.Context) ([]store.Technology, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]store.Technology(nil), f.TechList...), nil
}

func (f *Fake) TechnologyBySlug(ctx context.Context, slug string) (*store.Technology, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	for i := range f.TechList {
		if f.TechList[i].Slug == slug {
			t := f.TechList[i]
			return &t, nil
		}
	}
	return nil, &store.NotFoundError{Resource: "technology", Key: slug}
}

func (f *Fake) Protocols(ctx context.Context, technologySlug string) ([]store.Protocol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	var out []store.Protocol
	for _, p := range f.ProtocolList {
		if p.TechnologySlug == technologySlug {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) ProtocolByID(ctx context.Context, id string) (*store.Protocol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	for i := range f.ProtocolList {
		if f.ProtocolList[i].ID == id {
			p := f.ProtocolList[i]
			return &p, nil
		}
	}
	return nil, &store.NotFoundError{Resource: "protocol", Key: id}
}

func (f *Fake) ProtocolBySlug(ctx context.Context, technologySlug, protocolSlug string) (*store.Protocol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	for i := range f.ProtocolList {
		if f.ProtocolList[i].TechnologySlug == technologySlug && f.ProtocolList[i].Slug == protocolSlug {
			p := f.ProtocolList[i]
			return &p, nil
		}
	}
	return nil, &store.NotFoundError{Resource: "protocol", Key: protocolSlug}
}

func (f *Fake) SteeringRules(ctx context.Context, technologySlug string) ([]store.SteeringRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]store.SteeringRule(nil), f.Rules[technologySlug]...), nil
}

func (f *Fake) SearchProtocols(ctx context.Context, query, technologySlug string, limit int) ([]store.Protocol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	// Naive substring match stands in for the catalog's full-text search.
	var out []store.Protocol
	for _, p := range f.ProtocolList {
		if technologySlug != "" && p.TechnologySlug != technologySlug {
			continue
		}
		haystack := strings.ToLower(p.Title + " " + p.Description + " " + p.ContentMarkdown)
		if strings.Contains(haystack, strings.ToLower(query)) {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) RecordView(ctx context.Context, user *store.User, protocol *store.Protocol, apiKey *store.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}

	rec := ViewRecord{UserID: user.ID, ProtocolID: protocol.ID}
	if apiKey != nil {
		rec.APIKeyID = apiKey.ID
	}
	f.Views = append(f.Views, rec)

	for i := range f.ProtocolList {
		if f.ProtocolList[i].ID == protocol.ID {
			f.ProtocolList[i].ViewCount++
		}
	}

	usage, ok := f.Usage[user.ID]
	if !ok {
		usage = &store.DailyUsage{
			UsageByTechnology: map[string]int{},
			UsageByIDE:        map[string]int{},
		}
		f.Usage[user.ID] = usage
	}
	usage.ProtocolViews++
	usage.APIRequests++
	usage.UsageByTechnology[protocol.TechnologySlug]++
	if apiKey != nil && apiKey.IDEType != "" {
		usage.UsageByIDE[apiKey.IDEType]++
	}
	return nil
}

func (f *Fake) DailyUsageToday(ctx context.Context, userID string) (*store.DailyUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	usage, ok := f.Usage[userID]
	if !ok {
		return &store.DailyUsage{
			UsageByTechnology: map[string]int{},
			UsageByIDE:        map[string]int{},
		}, nil
	}
	out := *usage
	return &out, nil
}

func (f *Fake) RecordAccessLog(ctx context.Context, entry *store.AccessLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.AccessLogs = append(f.AccessLogs, *entry)
	return nil
}

var _ store.Store = (*Fake)(nil)
