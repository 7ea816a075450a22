package pricing

import (
	"fmt"
	"time"
)

// Band is the inclusive price range of a plan in whole RUB.
type Band struct {
	Min int
	Max int
}

// Plan is a purchasable subscription period.
type Plan struct {
	ID       string
	Title    string
	Duration time.Duration
	Band     Band
}

const day = 24 * time.Hour

var catalog = []Plan{
	{ID: "1_day", Title: "1 день", Duration: day, Band: Band{Min: 10, Max: 20}},
	{ID: "1_week", Title: "1 неделя", Duration: 7 * day, Band: Band{Min: 40, Max: 70}},
	{ID: "1_month", Title: "1 месяц", Duration: 30 * day, Band: Band{Min: 90, Max: 130}},
	{ID: "6_months", Title: "6 месяцев", Duration: 180 * day, Band: Band{Min: 480, Max: 550}},
}

// Plans returns the catalog in display order.
func Plans() []Plan {
	out := make([]Plan, len(catalog))
	copy(out, catalog)
	return out
}

// LookupPlan finds a plan by id.
func LookupPlan(id string) (Plan, error) {
	for _, p := range catalog {
		if p.ID == id {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("unknown plan %q", id)
}
