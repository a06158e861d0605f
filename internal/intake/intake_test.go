package intake

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/store"
)

func testIntake(t *testing.T) *Intake {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return testIntakeOn(db)
}

func testIntakeOn(db *store.DB) *Intake {
	return New(db, config.Default().Intake, zap.NewNop(), observability.NewCollector("hearth_test"))
}

func testStoreEvent(id string) store.Event {
	return store.Event{ID: id, Kind: store.EventStateChanged, SourceRef: "light.kitchen"}
}

func validInput(key string) EventInput {
	return EventInput{
		Kind:           store.EventStateChanged,
		SourceRef:      "light.kitchen",
		ZoneID:         "zone:kitchen",
		Attributes:     map[string]string{"state": "on"},
		Timestamp:      time.Now().UnixMilli(),
		IdempotencyKey: key,
	}
}

func TestIngestAccepts(t *testing.T) {
	in := testIntake(t)

	res := in.Ingest([]EventInput{validInput("k1"), validInput("k2")})
	require.Len(t, res.Accepted, 2)
	assert.Empty(t, res.Rejected)
	assert.Equal(t, StatusAccepted, res.Statuses[0].Status)
	assert.NotEmpty(t, res.Statuses[0].EventID)
	assert.NotEqual(t, res.Accepted[0].ID, res.Accepted[1].ID)
}

func TestIngestDeduplicates(t *testing.T) {
	in := testIntake(t)

	first := in.Ingest([]EventInput{validInput("same")})
	require.Len(t, first.Accepted, 1)

	// Retrying the batch is not an error; the event lands exactly once.
	second := in.Ingest([]EventInput{validInput("same")})
	assert.Empty(t, second.Accepted)
	assert.Empty(t, second.Rejected)
	require.Len(t, second.Statuses, 1)
	assert.Equal(t, StatusDuplicate, second.Statuses[0].Status)

	count, err := in.db.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngestDedupeSurvivesRestart(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	first := testIntakeOn(db)
	p1 := &captureProcessor{}
	first.Register(p1)
	res := first.Ingest([]EventInput{validInput("restart-key")})
	require.Len(t, res.Accepted, 1)
	require.Len(t, p1.batches, 1)

	// A fresh Intake over the same log has an empty TTL set; the log's
	// unique index must still catch the replay before it reaches the ring
	// or the processors.
	second := testIntakeOn(db)
	p2 := &captureProcessor{}
	second.Register(p2)

	res = second.Ingest([]EventInput{validInput("restart-key")})
	assert.Empty(t, res.Accepted)
	assert.Empty(t, res.Rejected)
	require.Len(t, res.Statuses, 1)
	assert.Equal(t, StatusDuplicate, res.Statuses[0].Status)
	assert.Empty(t, p2.batches, "replayed event must not fan out")
	assert.Empty(t, second.Recent(), "replayed event must not enter the ring")

	count, err := db.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngestRejectsBadEvents(t *testing.T) {
	in := testIntake(t)

	noKey := validInput("")
	badSource := validInput("k1")
	badSource.SourceRef = "toaster.kitchen"
	staleTS := validInput("k2")
	staleTS.Timestamp = time.Now().Add(-48 * time.Hour).UnixMilli()

	res := in.Ingest([]EventInput{noKey, badSource, staleTS, validInput("k3")})
	require.Len(t, res.Rejected, 3)
	require.Len(t, res.Accepted, 1, "good event in a bad batch still lands")

	assert.Equal(t, 0, res.Rejected[0].Index)
	assert.Contains(t, res.Rejected[0].Reason, ErrMissingKey.Error())
	assert.Contains(t, res.Rejected[1].Reason, "unknown source")
	assert.Contains(t, res.Rejected[2].Reason, "malformed timestamp")
	assert.Equal(t, StatusAccepted, res.Statuses[3].Status)
}

func TestIngestRejectsOversized(t *testing.T) {
	in := testIntake(t)

	big := validInput("k1")
	big.Attributes = map[string]string{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		big.Attributes[k] = strings.Repeat("x", 512)
	}

	res := in.Ingest([]EventInput{big})
	require.Len(t, res.Rejected, 1)
	assert.Contains(t, res.Rejected[0].Reason, "oversized")
}

func TestIngestRedactsAttributes(t *testing.T) {
	in := testIntake(t)

	ev := validInput("k1")
	ev.Attributes = map[string]string{
		"state":        "on",
		"gps_location": "52.3,4.9",
		"owner_email":  "someone@example.com",
	}

	res := in.Ingest([]EventInput{ev})
	require.Len(t, res.Accepted, 1)
	attrs := res.Accepted[0].Attributes
	assert.Equal(t, "on", attrs["state"])
	assert.Equal(t, "[redacted]", attrs["gps_location"])
	assert.Equal(t, "[redacted]", attrs["owner_email"])
}

func TestIngestTrimsLongValues(t *testing.T) {
	in := testIntake(t)

	ev := validInput("k1")
	ev.Attributes = map[string]string{"notes": strings.Repeat("x", 600)}

	res := in.Ingest([]EventInput{ev})
	require.Len(t, res.Accepted, 1)
	assert.Len(t, res.Accepted[0].Attributes["notes"], 512)
}

func TestIngestTrimsAtRuneBoundary(t *testing.T) {
	in := testIntake(t)

	// 200 three-byte runes = 600 bytes; 512 is mid-rune, so the trim must
	// back up rather than leave a broken tail.
	ev := validInput("k1")
	ev.Attributes = map[string]string{"notes": strings.Repeat("€", 200)}

	res := in.Ingest([]EventInput{ev})
	require.Len(t, res.Accepted, 1)
	got := res.Accepted[0].Attributes["notes"]
	assert.True(t, utf8.ValidString(got), "truncation split a rune")
	assert.Len(t, got, 510)
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncateUTF8("abc", 10))
	assert.Equal(t, "ab", truncateUTF8("abc", 2))
	assert.Equal(t, "a", truncateUTF8("a€", 2))
	assert.Equal(t, "", truncateUTF8("€", 2))
}

type captureProcessor struct {
	mu      sync.Mutex
	batches [][]store.Event
	fail    bool
}

func (p *captureProcessor) Name() string { return "capture" }

func (p *captureProcessor) Process(batch []store.Event) error {
	p.mu.Lock()
	p.batches = append(p.batches, batch)
	p.mu.Unlock()
	if p.fail {
		return errors.New("boom")
	}
	return nil
}

type panicProcessor struct{}

func (panicProcessor) Name() string                { return "panicker" }
func (panicProcessor) Process([]store.Event) error { panic("bad consumer") }

func TestIngestFansOut(t *testing.T) {
	in := testIntake(t)
	p := &captureProcessor{}
	in.Register(p)

	in.Ingest([]EventInput{validInput("k1"), validInput("k2")})

	require.Len(t, p.batches, 1)
	assert.Len(t, p.batches[0], 2)

	// A fully rejected batch never reaches processors.
	in.Ingest([]EventInput{validInput("k1")}) // duplicate
	assert.Len(t, p.batches, 1)
}

func TestIngestSurvivesFailingProcessor(t *testing.T) {
	in := testIntake(t)
	failing := &captureProcessor{fail: true}
	healthy := &captureProcessor{}
	in.Register(failing)
	in.Register(panicProcessor{})
	in.Register(healthy)

	res := in.Ingest([]EventInput{validInput("k1")})
	require.Len(t, res.Accepted, 1)
	assert.Len(t, healthy.batches, 1, "later processors run despite earlier failures")
}

func TestRecentReflectsRing(t *testing.T) {
	in := testIntake(t)

	in.Ingest([]EventInput{validInput("k1"), validInput("k2")})
	recent := in.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "k1", recent[0].IdempotencyKey, "arrival order preserved")
}

func TestSourceDomain(t *testing.T) {
	assert.Equal(t, "light", sourceDomain("light.kitchen"))
	assert.Equal(t, "zone", sourceDomain("zone:kitchen"))
	assert.Equal(t, "bare", sourceDomain("bare"))
}
