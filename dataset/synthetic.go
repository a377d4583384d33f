package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/tsawler/waterfall-net/tensor"
)

// SyntheticConfig sizes a generated point-cloud pyramid.
type SyntheticConfig struct {
	Clouds           int   // number of samples in the dataset
	NumPoints        int   // points at level 0
	NumFeatures      int   // feature channels; the first three are xyz
	LabelValues      int   // labels are drawn from [0, LabelValues)
	KNN              int   // neighbors per point
	SubSamplingRatio []int // one ratio per pyramid level
	Seed             int64
}

func (c SyntheticConfig) validate() error {
	switch {
	case c.Clouds < 1:
		return fmt.Errorf("synthetic: clouds must be positive, got %d", c.Clouds)
	case c.NumFeatures < 1:
		return fmt.Errorf("synthetic: num_features must be positive, got %d", c.NumFeatures)
	case c.LabelValues < 1:
		return fmt.Errorf("synthetic: label values must be positive, got %d", c.LabelValues)
	case c.KNN < 1:
		return fmt.Errorf("synthetic: k_n must be positive, got %d", c.KNN)
	case len(c.SubSamplingRatio) == 0:
		return fmt.Errorf("synthetic: sub_sampling_ratio is empty")
	}
	n := c.NumPoints
	for l, r := range c.SubSamplingRatio {
		if r < 1 {
			return fmt.Errorf("synthetic: sub_sampling_ratio[%d] = %d must be positive", l, r)
		}
		n /= r
		if n < 1 {
			return fmt.Errorf("synthetic: %d points leave level %d empty", c.NumPoints, l+1)
		}
	}
	return nil
}

// SyntheticDataset generates random clouds with a full neighbor pyramid.
// Labels follow the x coordinate in equal bands so a model can learn them.
// Cloud i is a pure function of the seed and i.
type SyntheticDataset struct {
	cfg SyntheticConfig
}

func NewSyntheticDataset(cfg SyntheticConfig) (*SyntheticDataset, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &SyntheticDataset{cfg: cfg}, nil
}

func (s *SyntheticDataset) Len() int { return s.cfg.Clouds }

// Get returns cloud idx as a flat tensor list with batch dimension 1.
func (s *SyntheticDataset) Get(idx int) ([]*tensor.Tensor, error) {
	if idx < 0 || idx >= s.cfg.Clouds {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, s.cfg.Clouds)
	}
	rng := rand.New(rand.NewSource(s.cfg.Seed*7919 + int64(idx)))
	L := len(s.cfg.SubSamplingRatio)

	points := make([][3]float32, s.cfg.NumPoints)
	for i := range points {
		for c := 0; c < 3; c++ {
			points[i][c] = rng.Float32()
		}
	}

	levels := make([][][3]float32, L+1)
	levels[0] = points
	var xyz, neigh, sub, interp, subXYZ []*tensor.Tensor
	for l := 0; l < L; l++ {
		cur := levels[l]
		tree := newPointIndex(cur)
		nIdx := tree.knnAll(cur, s.cfg.KNN)

		m := len(cur) / s.cfg.SubSamplingRatio[l]
		next := cur[:m]
		levels[l+1] = next
		subTree := newPointIndex(next)

		xyz = append(xyz, xyzTensor(cur))
		neigh = append(neigh, indexTensor(nIdx, len(cur), s.cfg.KNN))
		sub = append(sub, indexTensor(nIdx[:m*s.cfg.KNN], m, s.cfg.KNN))
		interp = append(interp, indexTensor(subTree.knnAll(cur, 1), len(cur), 1))
		subXYZ = append(subXYZ, xyzTensor(next))
	}

	flat := make([]*tensor.Tensor, 0, 5*L+6)
	for _, group := range [][]*tensor.Tensor{xyz, neigh, sub, interp, subXYZ} {
		flat = append(flat, group...)
	}
	flat = append(flat, bridge(levels, 1, 3), bridge(levels, 2, 4))

	n := len(points)
	feats := make([]float32, n*s.cfg.NumFeatures)
	labels := make([]int32, n)
	inds := make([]int32, n)
	for i, p := range points {
		row := feats[i*s.cfg.NumFeatures : (i+1)*s.cfg.NumFeatures]
		for c := range row {
			if c < 3 {
				row[c] = p[c]
			} else {
				row[c] = p[c%3] * p[(c+1)%3]
			}
		}
		band := int(p[0] * float32(s.cfg.LabelValues))
		if band >= s.cfg.LabelValues {
			band = s.cfg.LabelValues - 1
		}
		labels[i] = int32(band)
		inds[i] = int32(i)
	}
	ft, _ := tensor.FromFloat32([]int{1, n, s.cfg.NumFeatures}, feats)
	lt, _ := tensor.FromInt32([]int{1, n}, labels)
	it, _ := tensor.FromInt32([]int{1, n}, inds)
	ct, _ := tensor.FromInt32([]int{1, 1}, []int32{int32(idx)})
	return append(flat, ft, lt, it, ct), nil
}

// bridge maps each point of level fine to its nearest point of level
// coarse. Levels beyond the pyramid yield an empty index.
func bridge(levels [][][3]float32, fine, coarse int) *tensor.Tensor {
	if coarse >= len(levels) {
		t, _ := tensor.Zeros([]int{1, 0, 1}, tensor.Int32)
		return t
	}
	idx := newPointIndex(levels[coarse]).knnAll(levels[fine], 1)
	return indexTensor(idx, len(levels[fine]), 1)
}

func xyzTensor(pts [][3]float32) *tensor.Tensor {
	data := make([]float32, 0, 3*len(pts))
	for _, p := range pts {
		data = append(data, p[0], p[1], p[2])
	}
	t, _ := tensor.FromFloat32([]int{1, len(pts), 3}, data)
	return t
}

func indexTensor(idx []int32, n, k int) *tensor.Tensor {
	t, _ := tensor.FromInt32([]int{1, n, k}, idx)
	return t
}

// pointIndex answers k-nearest-neighbor queries over a fixed point set.
type pointIndex struct {
	tree  *kdtree.Tree
	index map[[3]float64]int32
	size  int
}

func newPointIndex(pts [][3]float32) *pointIndex {
	kp := make(kdtree.Points, len(pts))
	index := make(map[[3]float64]int32, len(pts))
	for i, p := range pts {
		key := [3]float64{float64(p[0]), float64(p[1]), float64(p[2])}
		kp[i] = kdtree.Point{key[0], key[1], key[2]}
		if _, dup := index[key]; !dup {
			index[key] = int32(i)
		}
	}
	return &pointIndex{tree: kdtree.New(kp, false), index: index, size: len(pts)}
}

// knnAll returns, for every query, the indices of its k nearest points
// ordered by distance. When fewer than k points exist the farthest found
// neighbor is repeated.
func (pi *pointIndex) knnAll(queries [][3]float32, k int) []int32 {
	out := make([]int32, 0, len(queries)*k)
	for _, q := range queries {
		keep := kdtree.NewNKeeper(k)
		pi.tree.NearestSet(keep, kdtree.Point{float64(q[0]), float64(q[1]), float64(q[2])})

		found := make([]kdtree.ComparableDist, 0, k)
		for _, c := range keep.Heap {
			if c.Comparable != nil {
				found = append(found, c)
			}
		}
		sort.Slice(found, func(i, j int) bool { return found[i].Dist < found[j].Dist })

		last := int32(0)
		for j := 0; j < k; j++ {
			if j < len(found) {
				p := found[j].Comparable.(kdtree.Point)
				last = pi.index[[3]float64{p[0], p[1], p[2]}]
			}
			out = append(out, last)
		}
	}
	return out
}

// distance is the Euclidean distance between two points.
func distance(a, b [3]float32) float64 {
	var s float64
	for c := 0; c < 3; c++ {
		d := float64(a[c] - b[c])
		s += d * d
	}
	return math.Sqrt(s)
}
