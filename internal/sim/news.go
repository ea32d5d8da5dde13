package sim

import "math/rand"

// Event is a named market news event with a base price impact (fractional,
// positive or negative) and a selection weight.
type Event struct {
	Name   string
	Impact float64
	Weight float64
}

// DefaultEvents is the built-in weighted event table. Weights are relative;
// selection is by cumulative-probability roulette over the normalized sum.
var DefaultEvents = []Event{
	{Name: "research breakthrough", Impact: 0.08, Weight: 0.15},
	{Name: "national ranking rise", Impact: 0.06, Weight: 0.15},
	{Name: "campus expansion announced", Impact: 0.05, Weight: 0.10},
	{Name: "accreditation renewed", Impact: 0.03, Weight: 0.15},
	{Name: "alumni donation windfall", Impact: 0.04, Weight: 0.10},
	{Name: "staff strike action", Impact: -0.06, Weight: 0.10},
	{Name: "funding cut", Impact: -0.07, Weight: 0.10},
	{Name: "national ranking drop", Impact: -0.05, Weight: 0.10},
	{Name: "admission scandal", Impact: -0.09, Weight: 0.05},
}

// pickEvent selects one event by roulette over the table's weights.
func pickEvent(rng *rand.Rand, events []Event) Event {
	var total float64
	for _, e := range events {
		total += e.Weight
	}

	roll := rng.Float64() * total
	var cum float64
	for _, e := range events {
		cum += e.Weight
		if roll < cum {
			return e
		}
	}
	return events[len(events)-1]
}
