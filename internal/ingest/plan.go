package ingest

import (
	"strings"

	"github.com/ampersand-strategies/candidate-tracker/pkg/fec"
)

// Plan is the set of candidate categories one ingest run walks.
type Plan struct {
	Origin  string
	Queries []fec.CandidateQuery
}

// PlanOptions selects the categories of a plan. Empty slices are skipped
// as filters, so a plan with no parties covers every party.
type PlanOptions struct {
	Cycles   []int
	Offices  []string
	Parties  []string
	State    string
	PageSize int
}

// NewPlan expands cycle × office × party into one query per category.
func NewPlan(origin string, opts PlanOptions) Plan {
	offices := orAny(opts.Offices)
	parties := orAny(opts.Parties)
	state := strings.ToUpper(strings.TrimSpace(opts.State))

	plan := Plan{Origin: origin}
	for _, cycle := range opts.Cycles {
		for _, office := range offices {
			for _, party := range parties {
				plan.Queries = append(plan.Queries, fec.CandidateQuery{
					Cycle:   cycle,
					Office:  strings.ToUpper(office),
					Party:   strings.ToUpper(party),
					State:   state,
					PerPage: opts.PageSize,
				})
			}
		}
	}
	return plan
}

func orAny(v []string) []string {
	if len(v) == 0 {
		return []string{""}
	}
	return v
}
