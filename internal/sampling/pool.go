package sampling

import (
	"cmp"
	"math"
	"slices"

	pq "github.com/emirpasic/gods/v2/queues/priorityqueue"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/charprefix/internal/estimate"
)

// pool is the working distribution of one step. ids and probs are parallel;
// their order is the tie-break order for every later stage.
type pool struct {
	ids   []int
	probs []float64
}

// newPool keeps entries allowed by keep. Non-finite and non-positive
// probabilities are dropped and repeated ids are merged at their first
// position.
func newPool(dist estimate.Distribution, keep func(int) bool) *pool {
	p := &pool{
		ids:   make([]int, 0, len(dist)),
		probs: make([]float64, 0, len(dist)),
	}
	index := make(map[int]int, len(dist))
	for _, tp := range dist {
		if !(tp.Prob > 0) || math.IsInf(tp.Prob, 0) || !keep(tp.ID) {
			continue
		}
		if i, ok := index[tp.ID]; ok {
			p.probs[i] = min(p.probs[i]+tp.Prob, math.MaxFloat64)
			continue
		}
		index[tp.ID] = len(p.ids)
		p.ids = append(p.ids, tp.ID)
		p.probs = append(p.probs, tp.Prob)
	}
	return p
}

func (p *pool) len() int { return len(p.ids) }

func (p *pool) sum() float64 { return floats.Sum(p.probs) }

// normalize scales probabilities to sum to one. Entries are first divided
// by the largest one, so finite weights whose sum overflows still work.
func (p *pool) normalize() {
	if p.len() == 0 {
		return
	}
	m := floats.Max(p.probs)
	if !(m > 0) {
		return
	}
	for i := range p.probs {
		p.probs[i] /= m
	}
	floats.Scale(1/p.sum(), p.probs)
}

// retain keeps the entries at idx, in that order, and renormalizes.
func (p *pool) retain(idx []int) {
	ids := make([]int, len(idx))
	probs := make([]float64, len(idx))
	for j, i := range idx {
		ids[j] = p.ids[i]
		probs[j] = p.probs[i]
	}
	p.ids, p.probs = ids, probs
	p.normalize()
}

// temperature rescales as p^(1/t) in log space, relative to the largest
// probability so nothing overflows. t == 0 keeps only the first maximum.
func (p *pool) temperature(t float64) {
	switch {
	case p.len() == 0, t == 1:
		return
	case t == 0:
		p.retain([]int{floats.MaxIdx(p.probs)})
		return
	}

	logMax := math.Log(floats.Max(p.probs))
	for i, v := range p.probs {
		p.probs[i] = math.Exp((math.Log(v) - logMax) / t)
	}
	p.normalize()
}

type ranked struct {
	pos  int
	prob float64
}

// byProbDesc orders by probability, then by current position.
func byProbDesc(a, b ranked) int {
	if c := cmp.Compare(b.prob, a.prob); c != 0 {
		return c
	}
	return cmp.Compare(a.pos, b.pos)
}

// topK keeps the k most probable entries, most probable first.
func (p *pool) topK(k int) {
	if k <= 0 || k >= p.len() {
		return
	}

	q := pq.NewWith(byProbDesc)
	for i, v := range p.probs {
		q.Enqueue(ranked{pos: i, prob: v})
	}

	keep := make([]int, 0, k)
	for range k {
		r, _ := q.Dequeue()
		keep = append(keep, r.pos)
	}
	p.retain(keep)
}

// topP sorts by probability and keeps the shortest run whose mass reaches
// topP. If rounding stops the sum short of topP everything is kept.
func (p *pool) topP(topP float64) {
	if topP <= 0 || topP >= 1 || p.len() == 0 {
		return
	}

	order := make([]ranked, p.len())
	for i, v := range p.probs {
		order[i] = ranked{pos: i, prob: v}
	}
	slices.SortStableFunc(order, byProbDesc)

	keep := make([]int, 0, len(order))
	var cum float64
	for _, r := range order {
		keep = append(keep, r.pos)
		cum += r.prob
		if cum >= topP {
			break
		}
	}
	p.retain(keep)
}

// draw picks the first entry whose cumulative probability exceeds u, a
// uniform variate in [0, 1). The last entry absorbs rounding error.
func (p *pool) draw(u float64) int {
	cum := make([]float64, p.len())
	floats.CumSum(cum, p.probs)
	for i, c := range cum {
		if u < c {
			return p.ids[i]
		}
	}
	return p.ids[p.len()-1]
}
