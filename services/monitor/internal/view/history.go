package view

import (
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/metrics"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

// FromResponse renders a full history response without a live window, as
// used by the non-realtime ranges.
func FromResponse(resp metrics.Response, seriesMode SeriesMode, valueMode ValueMode) (Frame, error) {
	capacity := len(resp.Total)
	if capacity == 0 {
		capacity = 1
	}
	store, err := window.NewStore(capacity)
	if err != nil {
		return Frame{}, err
	}
	for _, id := range resp.EquipmentIDs() {
		store.Track(id)
	}
	byTS := resp.ValuesAt()
	for _, s := range resp.Total {
		if _, err := store.AppendAt(s.TS, s.Production, byTS[s.TS]); err != nil {
			return Frame{}, err
		}
	}
	return Transform(store.Snapshot(), seriesMode, valueMode), nil
}
