package intake

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/store"
)

// Rejection reasons. Rejections are per-event, never batch-fatal.
var (
	ErrUnknownSource = errors.New("unknown source kind")
	ErrOversized     = errors.New("oversized payload")
	ErrBadTimestamp  = errors.New("malformed timestamp")
	ErrMissingKey    = errors.New("missing idempotency key")
)

// Per-event ingest statuses.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
)

// EventInput is a single inbound observation before validation.
type EventInput struct {
	Kind           string            `json:"kind" validate:"required,oneof=state_changed service_call"`
	SourceRef      string            `json:"source_ref" validate:"required,max=255"`
	ZoneID         string            `json:"zone_id,omitempty" validate:"omitempty,max=255"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Timestamp      int64             `json:"timestamp" validate:"required"`
	IdempotencyKey string            `json:"idempotency_key" validate:"required,max=255"`
}

// Rejection reports why one event in a batch was refused.
type Rejection struct {
	Index     int    `json:"index"`
	SourceRef string `json:"source_ref"`
	Reason    string `json:"reason"`
}

// Status is the per-event outcome of an ingest call, in batch order.
type Status struct {
	Index   int    `json:"index"`
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Result is the outcome of one Ingest call.
type Result struct {
	Accepted []store.Event
	Rejected []Rejection
	Statuses []Status
}

// Processor consumes accepted event batches downstream of intake.
type Processor interface {
	Name() string
	Process(batch []store.Event) error
}

// Intake validates, redacts, deduplicates, buffers, and fans out inbound
// events.
type Intake struct {
	cfg      config.IntakeConfig
	db       *store.DB
	log      *zap.Logger
	metrics  *observability.Collector
	validate *validator.Validate

	mu         sync.Mutex
	seen       *seenSet
	ring       *eventRing
	processors []Processor
}

// New creates an Intake backed by the given event log.
func New(db *store.DB, cfg config.IntakeConfig, log *zap.Logger, metrics *observability.Collector) *Intake {
	return &Intake{
		cfg:      cfg,
		db:       db,
		log:      log,
		metrics:  metrics,
		validate: validator.New(),
		seen:     newSeenSet(cfg.DedupeTTL, cfg.DedupeCapacity),
		ring:     newEventRing(cfg.RingCapacity),
	}
}

// Register appends a downstream processor. Processors run in registration
// order after each accepted batch.
func (in *Intake) Register(p Processor) {
	in.mu.Lock()
	in.processors = append(in.processors, p)
	in.mu.Unlock()
}

// Ingest validates and stores a batch. Events are processed strictly in
// batch order; a retried batch with the same idempotency keys is accepted
// exactly once. Rejections are reported per event and never abort the batch.
func (in *Intake) Ingest(batch []EventInput) Result {
	now := time.Now()
	res := Result{Statuses: make([]Status, 0, len(batch))}

	in.mu.Lock()
	for i := range batch {
		ev, err := in.checkEvent(&batch[i], now)
		if err != nil {
			in.metrics.EventsRejected.WithLabelValues(reasonLabel(err)).Inc()
			res.Rejected = append(res.Rejected, Rejection{Index: i, SourceRef: batch[i].SourceRef, Reason: err.Error()})
			res.Statuses = append(res.Statuses, Status{Index: i, Status: StatusRejected, Reason: err.Error()})
			continue
		}

		if in.seen.Seen(ev.IdempotencyKey, now) {
			in.metrics.EventsDeduped.Inc()
			res.Statuses = append(res.Statuses, Status{Index: i, Status: StatusDuplicate})
			continue
		}

		if err := in.db.AppendEvent(ev); err != nil {
			// The log's unique index catches duplicates the TTL set has
			// forgotten (restart, or a key past the TTL but inside event
			// retention); those must not reach the ring or the processors.
			if errors.Is(err, store.ErrDuplicateEvent) {
				in.metrics.EventsDeduped.Inc()
				res.Statuses = append(res.Statuses, Status{Index: i, Status: StatusDuplicate})
				continue
			}
			// Log-and-continue: an append failure must not block the rest
			// of the batch.
			in.log.Error("append event", zap.String("source_ref", ev.SourceRef), zap.Error(err))
			res.Rejected = append(res.Rejected, Rejection{Index: i, SourceRef: ev.SourceRef, Reason: "store error"})
			res.Statuses = append(res.Statuses, Status{Index: i, Status: StatusRejected, Reason: "store error"})
			continue
		}

		in.ring.Append(*ev)
		in.metrics.EventsAccepted.Inc()
		res.Accepted = append(res.Accepted, *ev)
		res.Statuses = append(res.Statuses, Status{Index: i, Status: StatusAccepted, EventID: ev.ID})
	}
	processors := make([]Processor, len(in.processors))
	copy(processors, in.processors)
	in.mu.Unlock()

	if len(res.Accepted) > 0 {
		for _, p := range processors {
			in.dispatch(p, res.Accepted)
		}
	}
	return res
}

// dispatch runs one processor over the batch, containing panics and errors
// so a failing consumer never blocks the others.
func (in *Intake) dispatch(p Processor, batch []store.Event) {
	defer func() {
		if r := recover(); r != nil {
			in.log.Error("processor panic", zap.String("processor", p.Name()), zap.Any("panic", r))
		}
	}()
	if err := p.Process(batch); err != nil {
		in.log.Error("processor failed", zap.String("processor", p.Name()), zap.Error(err))
	}
}

// checkEvent validates and normalizes one inbound event, returning the
// accepted form or a rejection error.
func (in *Intake) checkEvent(input *EventInput, now time.Time) (*store.Event, error) {
	if err := in.validate.Struct(input); err != nil {
		if input.IdempotencyKey == "" {
			return nil, ErrMissingKey
		}
		if input.Timestamp == 0 {
			return nil, ErrBadTimestamp
		}
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	if !in.sourceAllowed(input.SourceRef) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceDomain(input.SourceRef))
	}

	ts := time.UnixMilli(input.Timestamp)
	if ts.Before(now.Add(-in.cfg.MaxClockSkew)) || ts.After(now.Add(in.cfg.MaxClockSkew)) {
		return nil, fmt.Errorf("%w: %d outside skew window", ErrBadTimestamp, input.Timestamp)
	}

	attrs, total := in.sanitizeAttributes(input.Attributes)
	if total > in.cfg.MaxEventBytes {
		return nil, fmt.Errorf("%w: %d attribute bytes", ErrOversized, total)
	}

	return &store.Event{
		ID:             uuid.NewString(),
		Kind:           input.Kind,
		SourceRef:      input.SourceRef,
		ZoneID:         input.ZoneID,
		Attributes:     attrs,
		Timestamp:      input.Timestamp,
		IdempotencyKey: input.IdempotencyKey,
		IngestedAt:     now.UnixMilli(),
	}, nil
}

// sanitizeAttributes redacts configured PII keys and trims values to the
// per-value ceiling. Returns the cleaned map and its total byte size.
func (in *Intake) sanitizeAttributes(attrs map[string]string) (map[string]string, int) {
	if len(attrs) == 0 {
		return nil, 0
	}
	out := make(map[string]string, len(attrs))
	total := 0
	for k, v := range attrs {
		if in.isRedacted(k) {
			v = "[redacted]"
		} else if len(v) > in.cfg.MaxAttrBytes {
			v = truncateUTF8(v, in.cfg.MaxAttrBytes)
		}
		out[k] = v
		total += len(k) + len(v)
	}
	return out, total
}

// truncateUTF8 trims s to at most n bytes, backing up to a rune boundary so
// the result stays valid UTF-8.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (in *Intake) isRedacted(key string) bool {
	lower := strings.ToLower(key)
	for _, r := range in.cfg.RedactKeys {
		if strings.Contains(lower, r) {
			return true
		}
	}
	return false
}

func (in *Intake) sourceAllowed(sourceRef string) bool {
	domain := sourceDomain(sourceRef)
	for _, p := range in.cfg.AllowedPrefixes {
		if domain == p {
			return true
		}
	}
	return false
}

// sourceDomain extracts the domain of a source_ref: "light.kitchen" →
// "light", "zone:kitchen" → "zone".
func sourceDomain(sourceRef string) string {
	if i := strings.IndexAny(sourceRef, ".:"); i > 0 {
		return sourceRef[:i]
	}
	return sourceRef
}

// Recent returns the buffered events in arrival order.
func (in *Intake) Recent() []store.Event {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ring.Snapshot()
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnknownSource):
		return "unknown_source"
	case errors.Is(err, ErrOversized):
		return "oversized"
	case errors.Is(err, ErrBadTimestamp):
		return "bad_timestamp"
	case errors.Is(err, ErrMissingKey):
		return "missing_key"
	default:
		return "invalid"
	}
}
