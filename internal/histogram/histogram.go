// Package histogram bins a dataset into the plot payload the frontend
// renders. Plotting itself happens in the browser; this package only
// computes bucket edges, counts, and summary statistics.
package histogram

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/histoboard/backend/internal/source"
)

// Bin is one histogram bucket. The interval is [Lo, Hi), except the last
// bin which is closed so the maximum sample lands inside.
type Bin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count int     `json:"count"`
}

// Plot is the rendered-histogram payload.
type Plot struct {
	Source string  `json:"source"`
	Bins   []Bin   `json:"bins"`
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Compute bins data into a histogram. bins <= 0 selects the bin count by
// Sturges' rule. An empty dataset yields the zero Plot, which renders as
// a cleared display.
func Compute(data source.Dataset, bins int) Plot {
	if len(data) == 0 {
		return Plot{}
	}

	min, max := data[0], data[0]
	for _, v := range data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	p := Plot{
		N:    len(data),
		Mean: stat.Mean(data, nil),
		Min:  min,
		Max:  max,
	}
	if len(data) > 1 {
		p.StdDev = stat.StdDev(data, nil)
	}

	// All samples identical: one degenerate bin.
	if min == max {
		p.Bins = []Bin{{Lo: min, Hi: max, Count: len(data)}}
		return p
	}

	if bins <= 0 {
		bins = int(math.Ceil(math.Log2(float64(len(data))))) + 1
	}

	width := (max - min) / float64(bins)
	p.Bins = make([]Bin, bins)
	for i := range p.Bins {
		p.Bins[i].Lo = min + float64(i)*width
		p.Bins[i].Hi = min + float64(i+1)*width
	}
	p.Bins[bins-1].Hi = max

	for _, v := range data {
		idx := int((v - min) / width)
		if idx >= bins {
			idx = bins - 1
		}
		p.Bins[idx].Count++
	}
	return p
}
