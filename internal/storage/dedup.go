package storage

import "github.com/tehaksbrid/shop-databaser/internal/models"

// Deduplicate keeps, for every id, the record with the greatest _write_time.
// On equal write times the later occurrence wins. Records without an id are dropped.
// Output order follows the position of each winning record in the input.
func Deduplicate(records []models.Record) []models.Record {
	type winner struct {
		pos  int
		time int64
	}
	best := make(map[string]winner, len(records))
	for i, r := range records {
		id := models.RecordID(r)
		if id == "" {
			continue
		}
		wt := models.WriteTime(r)
		if w, ok := best[id]; ok && w.time > wt {
			continue
		}
		best[id] = winner{pos: i, time: wt}
	}

	out := make([]models.Record, 0, len(best))
	for i, r := range records {
		id := models.RecordID(r)
		if id == "" {
			continue
		}
		if best[id].pos == i {
			out = append(out, r)
		}
	}
	return out
}
