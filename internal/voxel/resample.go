package voxel

// Resample returns a tree at 1/factor resolution. Each output voxel combines
// the active input voxels that fall in its factor^3 block: numeric and vector
// values are averaged, boolean and mask values are or-ed. factor <= 1 returns
// a deep copy.
func Resample(t Tree, factor int) Tree {
	if factor <= 1 {
		return t.Copy()
	}
	f := int32(factor)
	switch tt := t.(type) {
	case *TypedTree[bool]:
		return resample(tt, f, anyTrue)
	case *TypedTree[float32]:
		return resample(tt, f, mean[float32])
	case *TypedTree[float64]:
		return resample(tt, f, mean[float64])
	case *TypedTree[int32]:
		return resample(tt, f, mean[int32])
	case *TypedTree[int64]:
		return resample(tt, f, mean[int64])
	case *TypedTree[Vec3f]:
		return resample(tt, f, meanVec[Vec3f, float32])
	case *TypedTree[Vec3d]:
		return resample(tt, f, meanVec[Vec3d, float64])
	case *TypedTree[Vec3i]:
		return resample(tt, f, meanVec[Vec3i, int32])
	default:
		return t.Copy()
	}
}

func resample[V Value](t *TypedTree[V], factor int32, reduce func([]V) V) *TypedTree[V] {
	buckets := make(map[Coord][]V)
	t.ForEachActive(func(c Coord, v V) {
		k := c.FloorDiv(factor)
		buckets[k] = append(buckets[k], v)
	})
	out := NewTypedTree(t.gridType, t.background)
	for c, vs := range buckets {
		out.SetValue(c, reduce(vs))
	}
	return out
}

type scalar interface {
	float32 | float64 | int32 | int64
}

func mean[S scalar](vs []S) S {
	var sum float64
	for _, v := range vs {
		sum += float64(v)
	}
	return S(sum / float64(len(vs)))
}

func meanVec[V ~[3]S, S scalar](vs []V) V {
	var sum [3]float64
	for _, v := range vs {
		for i := range sum {
			sum[i] += float64(v[i])
		}
	}
	var out V
	for i := range out {
		out[i] = S(sum[i] / float64(len(vs)))
	}
	return out
}

func anyTrue(vs []bool) bool {
	for _, v := range vs {
		if v {
			return true
		}
	}
	return false
}
