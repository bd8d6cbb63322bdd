package geo

import "math"

// Index is a cumulative-distance table over an ordered path.
// Cum[i] is the along-path distance in meters from Path[0] to Path[i].
type Index struct {
	Path []Point
	Cum  []float64
}

// Projection holds, per waypoint, the cumulative distance of its nearest path vertex.
type Projection []float64

// NewIndex builds the cumulative table for path. An empty path yields the
// degenerate table [0].
func NewIndex(path []Point) *Index {
	n := len(path)
	if n == 0 {
		return &Index{Cum: []float64{0}}
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += Distance(path[i-1], path[i])
		cum[i] = sum
	}
	return &Index{Path: path, Cum: cum}
}

// Len returns the number of path points.
func (ix *Index) Len() int { return len(ix.Path) }

// Total returns the full path length in meters.
func (ix *Index) Total() float64 { return ix.Cum[len(ix.Cum)-1] }

// SegmentLength returns the length of segment i (Path[i] -> Path[i+1]), or 0
// when i is out of range.
func (ix *Index) SegmentLength(i int) float64 {
	if i < 0 || i+1 >= len(ix.Path) {
		return 0
	}
	return ix.Cum[i+1] - ix.Cum[i]
}

// Bearing returns the heading of segment i, or 0 when it does not exist.
func (ix *Index) Bearing(i int) float64 {
	if i < 0 || i+1 >= len(ix.Path) {
		if n := len(ix.Path); n > 1 {
			return Bearing(ix.Path[n-2], ix.Path[n-1])
		}
		return 0
	}
	return Bearing(ix.Path[i], ix.Path[i+1])
}

// ProjectWaypoints maps each waypoint onto the cumulative distance of its
// nearest path vertex; ties keep the first occurrence. This is a linear scan
// per waypoint, fine for paths of a few thousand points.
func (ix *Index) ProjectWaypoints(waypoints []Point) Projection {
	proj := make(Projection, len(waypoints))
	if len(ix.Path) == 0 {
		return proj
	}
	for w, wp := range waypoints {
		best := math.MaxFloat64
		bestIdx := 0
		for i, p := range ix.Path {
			if d := Distance(wp, p); d < best {
				best = d
				bestIdx = i
			}
		}
		proj[w] = ix.Cum[bestIdx]
	}
	return proj
}

// DistanceTraveled projects pos onto the nearest point of any path segment and
// returns its cumulative distance. Uses an equirectangular approximation
// centered on pos.
func (ix *Index) DistanceTraveled(pos Point) float64 {
	n := len(ix.Path)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return 0
	}
	cosLat0 := math.Cos(toRad(pos.Lat))
	toXY := func(p Point) (x, y float64) {
		y = toRad(p.Lat-pos.Lat) * earthRadiusMeters
		x = toRad(p.Lng-pos.Lng) * earthRadiusMeters * cosLat0
		return
	}
	bestDist2 := math.MaxFloat64
	bestAlong := 0.0
	x0, y0 := toXY(ix.Path[0])
	for i := 1; i < n; i++ {
		x1, y1 := toXY(ix.Path[i])
		dx := x1 - x0
		dy := y1 - y0
		segLen2 := dx*dx + dy*dy
		t := 0.0
		if segLen2 > 0 {
			t = -(x0*dx + y0*dy) / segLen2
			if t < 0 {
				t = 0
			} else if t > 1 {
				t = 1
			}
		}
		px := x0 + t*dx
		py := y0 + t*dy
		if d2 := px*px + py*py; d2 < bestDist2 {
			bestDist2 = d2
			bestAlong = ix.Cum[i-1] + t*(ix.Cum[i]-ix.Cum[i-1])
		}
		x0, y0 = x1, y1
	}
	return bestAlong
}

// RemainingDistance is the distance from pos to the end of segment plus every
// full segment after it. It is 0 once segment is the last index.
func (ix *Index) RemainingDistance(segment int, pos Point) float64 {
	n := len(ix.Path)
	if segment < 0 {
		segment = 0
	}
	if segment >= n-1 {
		return 0
	}
	return Distance(pos, ix.Path[segment+1]) + (ix.Total() - ix.Cum[segment+1])
}

// Locate returns the segment and position at along-path distance dist,
// clamped to [0, Total].
func (ix *Index) Locate(dist float64) (int, Point) {
	n := len(ix.Path)
	if n == 0 {
		return 0, Point{}
	}
	if n == 1 || dist <= 0 {
		return 0, ix.Path[0]
	}
	if dist >= ix.Total() {
		return n - 1, ix.Path[n-1]
	}
	i := 1
	for i < n && ix.Cum[i] <= dist {
		i++
	}
	d0 := ix.Cum[i-1]
	d1 := ix.Cum[i]
	if d1 == d0 {
		return i - 1, ix.Path[i-1]
	}
	return i - 1, Lerp(ix.Path[i-1], ix.Path[i], (dist-d0)/(d1-d0))
}
