// Package cxdb provides an adapter that persists events to cxdb as
// SystemMessage conversation items.
package cxdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	cxdtypes "github.com/strongdm/ai-cxdb/clients/go/types"

	"github.com/errtrail/errtrail/pkg/errtrail"
)

// Client is the minimal interface for cxdb operations. The real
// *cxdbclient.Client satisfies it.
type Client interface {
	CreateContext(ctx context.Context, baseTurnID uint64) (*cxdbclient.ContextHead, error)
	AppendTurn(ctx context.Context, req *cxdbclient.AppendRequest) (*cxdbclient.AppendResult, error)
	Close() error
}

// Option configures the cxdb adapter.
type Option func(*adapter)

// WithClient injects an existing client instead of dialing the DSN at
// Initialize time.
func WithClient(c Client) Option {
	return func(a *adapter) { a.client = c }
}

// WithOrphanLabels sets labels for contexts created when an event carries no
// context id of its own.
func WithOrphanLabels(labels []string) Option {
	return func(a *adapter) { a.orphanLabels = labels }
}

// WithClientTag sets the client tag for orphan contexts.
func WithClientTag(tag string) Option {
	return func(a *adapter) { a.clientTag = tag }
}

type adapter struct {
	mu          sync.Mutex
	client      Client
	ownedClient bool
	initialized bool

	orphanLabels []string
	clientTag    string
	environment  string
	release      string
	tags         map[string]string
	extra        map[string]any
}

// New returns a factory for cxdb adapters. Without WithClient, Initialize
// dials the address in AdapterConfig.DSN.
func New(opts ...Option) errtrail.Factory {
	return func() errtrail.Adapter {
		a := &adapter{
			orphanLabels: []string{"error", "unlinked"},
			clientTag:    "errtrail",
		}
		for _, opt := range opts {
			opt(a)
		}
		return a
	}
}

func (a *adapter) Name() string { return "cxdb" }

func (a *adapter) Initialize(ctx context.Context, cfg errtrail.AdapterConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.environment = cfg.Environment
	a.release = cfg.Release

	if a.client == nil {
		if cfg.DSN == "" {
			return fmt.Errorf("cxdb adapter requires a DSN")
		}
		c, err := cxdbclient.Dial(cfg.DSN, cxdbclient.WithClientTag(a.clientTag))
		if err != nil {
			return fmt.Errorf("dial cxdb: %w", err)
		}
		a.client = c
		a.ownedClient = true
	}
	a.initialized = true
	return nil
}

// LogError writes the event as a SystemMessage item. Events without a
// "cxdb_context_id" in Context land in a freshly created orphan context.
func (a *adapter) LogError(ctx context.Context, e *errtrail.Event) error {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return errtrail.ErrNotInitialized
	}
	client := a.client
	a.mu.Unlock()

	contextID, ok := contextIDFrom(e)
	isOrphan := !ok
	if isOrphan {
		head, err := client.CreateContext(ctx, 0)
		if err != nil {
			return fmt.Errorf("create orphan context: %w", err)
		}
		contextID = head.ContextID
	}

	item := a.buildConversationItem(e, isOrphan)
	payload, err := cxdbclient.EncodeMsgpack(item)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req := &cxdbclient.AppendRequest{
		ContextID:      contextID,
		ParentTurnID:   0,
		TypeID:         cxdtypes.TypeIDConversationItem,
		TypeVersion:    cxdtypes.TypeVersionConversationItem,
		Payload:        payload,
		IdempotencyKey: e.ID,
	}
	if _, err := client.AppendTurn(ctx, req); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (a *adapter) LogMessage(ctx context.Context, msg string, lvl errtrail.Level) error {
	e := &errtrail.Event{
		Message:   msg,
		Name:      "Message",
		Level:     lvl,
		Timestamp: time.Now(),
		Handled:   true,
	}
	return a.LogError(ctx, e)
}

// contextIDFrom extracts a cxdb context id from event context, accepting the
// integer types JSON round-trips produce.
func contextIDFrom(e *errtrail.Event) (uint64, bool) {
	v, ok := e.Context["cxdb_context_id"]
	if !ok {
		return 0, false
	}
	switch id := v.(type) {
	case uint64:
		return id, true
	case int64:
		if id >= 0 {
			return uint64(id), true
		}
	case int:
		if id >= 0 {
			return uint64(id), true
		}
	case float64:
		if id >= 0 {
			return uint64(id), true
		}
	case string:
		if n, err := strconv.ParseUint(id, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func (a *adapter) buildConversationItem(e *errtrail.Event, isOrphan bool) *cxdtypes.ConversationItem {
	title := e.Name
	if e.Message != "" {
		const maxMsgLen = 80
		msg := e.Message
		if len(msg) > maxMsgLen {
			msg = msg[:maxMsgLen] + "..."
		}
		title = e.Name + ": " + msg
	}
	if len(title) > 100 {
		title = title[:97] + "..."
	}

	item := &cxdtypes.ConversationItem{
		ItemType:  cxdtypes.ItemTypeSystem,
		Status:    cxdtypes.ItemStatusComplete,
		Timestamp: e.Timestamp.UnixMilli(),
		ID:        e.ID,
		System: &cxdtypes.SystemMessage{
			Kind:    cxdtypes.SystemKindError,
			Title:   title,
			Content: a.buildDetails(e),
		},
	}

	// cxdb expects context metadata on the first turn of a new context.
	if isOrphan {
		item.ContextMetadata = &cxdtypes.ContextMetadata{
			Labels:    a.orphanLabels,
			ClientTag: a.clientTag,
		}
	}
	return item
}

// buildDetails encodes the full event as JSON for SystemMessage.Content.
func (a *adapter) buildDetails(e *errtrail.Event) string {
	details := map[string]any{
		"event_id":    e.ID,
		"level":       e.Level.String(),
		"name":        e.Name,
		"message":     e.Message,
		"fingerprint": errtrail.FingerprintKey(e.Fingerprint),
		"handled":     e.Handled,
		"source":      e.Source,
	}
	if a.environment != "" {
		details["environment"] = a.environment
	}
	if a.release != "" {
		details["release"] = a.release
	}
	if e.Stack != "" {
		details["stack_trace"] = e.Stack
	}
	if e.User != nil {
		details["user"] = e.User
	}
	if len(e.Tags) > 0 {
		details["tags"] = e.Tags
	}
	if len(e.Context) > 0 {
		details["context"] = e.Context
	}
	if len(e.Metadata) > 0 {
		details["metadata"] = e.Metadata
	}
	if len(e.Breadcrumbs) > 0 {
		crumbs := make([]map[string]any, 0, len(e.Breadcrumbs))
		for _, b := range e.Breadcrumbs {
			crumbs = append(crumbs, map[string]any{
				"timestamp": b.Timestamp.UnixMilli(),
				"category":  b.Category,
				"message":   b.Message,
				"level":     b.Level.String(),
			})
		}
		details["breadcrumbs"] = crumbs
	}

	b, err := json.Marshal(details)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to encode details: %s"}`, err)
	}
	return string(b)
}

func (a *adapter) SetUser(*errtrail.User)            {}
func (a *adapter) SetContext(string, any)            {}
func (a *adapter) AddBreadcrumb(errtrail.Breadcrumb) {}

func (a *adapter) SetTags(tags map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tags == nil {
		a.tags = map[string]string{}
	}
	for k, v := range tags {
		a.tags[k] = v
	}
}

func (a *adapter) SetExtra(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.extra == nil {
		a.extra = map[string]any{}
	}
	a.extra[key] = value
}

func (a *adapter) ClearBreadcrumbs() {}

// Flush is a no-op, writes are synchronous.
func (a *adapter) Flush(ctx context.Context, timeout time.Duration) (bool, error) {
	return true, nil
}

func (a *adapter) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	if a.ownedClient && a.client != nil {
		err := a.client.Close()
		a.client = nil
		return err
	}
	return nil
}

func (a *adapter) SupportsFeature(f errtrail.Feature) bool {
	switch f {
	case errtrail.FeatureBreadcrumbs, errtrail.FeatureTags, errtrail.FeatureUserContext:
		return true
	}
	return false
}

func (a *adapter) Capabilities() errtrail.Capabilities {
	return errtrail.Capabilities{MaxBreadcrumbs: 100}
}
