package explorer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ctfadapter/core/types"
	"ctfadapter/native/market"
)

type stubEvent struct {
	payload *types.Event
}

func (e stubEvent) EventType() string   { return e.payload.Type }
func (e stubEvent) Event() *types.Event { return e.payload }

func resolvedEvent(qid string) stubEvent {
	return stubEvent{payload: &types.Event{
		Type: market.EventTypeResolved,
		Attributes: map[string]string{
			"questionId": qid,
			"price":      "1000000000000000000",
			"outcome":    "yes",
			"payoutYes":  "1",
			"payoutNo":   "0",
		},
	}}
}

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open("sqlite", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	return h
}

func TestHistoryRecordAndQuery(t *testing.T) {
	h := openTestHistory(t)
	require.NoError(t, h.Record(&ResolutionRecord{
		QuestionID: "aa01",
		EventType:  market.EventTypeResolved,
		Price:      "0",
		Outcome:    "no",
		PayoutYes:  "0",
		PayoutNo:   "1",
	}))

	rows, err := h.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "aa01", rows[0].QuestionID)
	require.Equal(t, "no", rows[0].Outcome)

	byQ, err := h.ByQuestion("aa01")
	require.NoError(t, err)
	require.Len(t, byQ, 1)
}

func TestHistoryEmitFiltersEventTypes(t *testing.T) {
	h := openTestHistory(t)

	h.Emit(resolvedEvent("bb02"))
	h.Emit(stubEvent{payload: &types.Event{
		Type:       market.EventTypeInitialized,
		Attributes: map[string]string{"questionId": "bb02"},
	}})
	h.Emit(stubEvent{payload: &types.Event{
		Type: market.EventTypeEmergencyResolved,
		Attributes: map[string]string{
			"questionId": "bb02",
			"outcome":    "unknown",
			"payoutYes":  "1",
			"payoutNo":   "1",
		},
	}})

	rows, err := h.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, market.EventTypeEmergencyResolved, rows[0].EventType)
	require.Equal(t, market.EventTypeResolved, rows[1].EventType)
	require.Equal(t, "1000000000000000000", rows[1].Price)
}

func TestHistoryRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle-db", "dsn")
	require.Error(t, err)
}
