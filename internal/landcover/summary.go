package landcover

import (
	"sort"
)

// ClassStats holds distribution statistics for one class across counties.
type ClassStats struct {
	Class string  `json:"class" yaml:"class"`
	Mean  float64 `json:"mean" yaml:"mean"`

	// MeanWithData averages only counties with data; Min, Max and Top
	// consider the same subset.
	MeanWithData float64  `json:"mean_with_data" yaml:"mean_with_data"`
	Min          float64  `json:"min" yaml:"min"`
	Max          float64  `json:"max" yaml:"max"`
	Top          []Ranked `json:"top" yaml:"top"`
}

// Ranked is a county and its proportion for a single class.
type Ranked struct {
	FIPS       string  `json:"county_fips" yaml:"county_fips"`
	Proportion float64 `json:"proportion" yaml:"proportion"`
}

// StateSummary holds mean proportions for the counties of one state.
type StateSummary struct {
	StateFIPS string             `json:"state_fips" yaml:"state_fips"`
	Counties  int                `json:"counties" yaml:"counties"`
	Means     map[string]float64 `json:"means" yaml:"means"`
}

// Summary aggregates an output table for reporting.
type Summary struct {
	Counties       int            `json:"counties" yaml:"counties"`
	WithData       int            `json:"with_data" yaml:"with_data"`
	NoData         int            `json:"no_data" yaml:"no_data"`
	Classes        []ClassStats   `json:"classes" yaml:"classes"`
	DominantCounts map[string]int `json:"dominant_counts" yaml:"dominant_counts"`
	States         []StateSummary `json:"states" yaml:"states"`
}

// Summarize computes per-class statistics, the top n counties per class,
// dominant-class counts and per-state means. Min, max, top and per-state
// figures consider only counties with data.
func Summarize(records []CountyRecord, n int) Summary {
	s := Summary{
		Counties:       len(records),
		DominantCounts: make(map[string]int, len(RealClasses)),
	}

	var withData []CountyRecord
	for _, r := range records {
		if r.HasData() {
			withData = append(withData, r)
		}
	}
	s.WithData = len(withData)
	s.NoData = s.Counties - s.WithData

	for _, c := range RealClasses {
		s.Classes = append(s.Classes, classStats(c, records, withData, n))
	}

	for _, r := range withData {
		if c, ok := r.Dominant(); ok {
			s.DominantCounts[c.String()]++
		}
	}

	s.States = stateSummaries(withData)
	return s
}

func classStats(c Class, all, withData []CountyRecord, n int) ClassStats {
	st := ClassStats{Class: c.String()}
	if len(all) > 0 {
		var sum float64
		for _, r := range all {
			sum += r.Proportion(c)
		}
		st.Mean = sum / float64(len(all))
	}
	if len(withData) == 0 {
		return st
	}

	ranked := make([]Ranked, 0, len(withData))
	var sum float64
	st.Min, st.Max = withData[0].Proportion(c), withData[0].Proportion(c)
	for _, r := range withData {
		p := r.Proportion(c)
		sum += p
		st.Min = min(st.Min, p)
		st.Max = max(st.Max, p)
		ranked = append(ranked, Ranked{FIPS: r.FIPS, Proportion: p})
	}
	st.MeanWithData = sum / float64(len(withData))

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Proportion > ranked[j].Proportion
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	if n > 0 {
		st.Top = ranked[:n]
	}
	return st
}

func stateSummaries(withData []CountyRecord) []StateSummary {
	type acc struct {
		n    int
		sums [5]float64
	}
	byState := make(map[string]*acc)
	for _, r := range withData {
		st := r.StateFIPS()
		a, ok := byState[st]
		if !ok {
			a = &acc{}
			byState[st] = a
		}
		a.n++
		for i, p := range r.Proportions() {
			a.sums[i] += p
		}
	}

	states := make([]StateSummary, 0, len(byState))
	for st, a := range byState {
		means := make(map[string]float64, len(RealClasses))
		for i, c := range RealClasses {
			means[c.String()] = a.sums[i] / float64(a.n)
		}
		states = append(states, StateSummary{StateFIPS: st, Counties: a.n, Means: means})
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].StateFIPS < states[j].StateFIPS
	})
	return states
}
