package voxmap

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ClusterKeys groups keys into 26-connected components. Clusters are
// ordered by their smallest key; keys within a cluster are sorted.
func ClusterKeys(keys []Key) [][]Key {
	remaining := NewKeySet(keys...)
	var clusters [][]Key

	for _, seed := range remaining.Sorted() {
		if !remaining.Has(seed) {
			continue
		}
		remaining.Remove(seed)
		members := NewKeySet(seed)
		queue := []Key{seed}
		for len(queue) > 0 {
			k := queue[0]
			queue = queue[1:]
			for _, n := range k.Neighbors() {
				if remaining.Has(n) {
					remaining.Remove(n)
					members.Add(n)
					queue = append(queue, n)
				}
			}
		}
		clusters = append(clusters, members.Sorted())
	}
	return clusters
}

// FrontierGeoJSON renders the frontier as a FeatureCollection in the map's
// XY plane: one MultiPoint feature per connected cluster, carrying its size,
// height range and centroid, plus a Polygon feature for the overall bounds.
func FrontierGeoJSON(codec KeyCodec, keys []Key, frame string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if len(keys) == 0 {
		return fc
	}

	var all orb.MultiPoint
	for i, cluster := range ClusterKeys(keys) {
		mp := make(orb.MultiPoint, len(cluster))
		zMin, zMax := codec.Decode(cluster[0]).Z, codec.Decode(cluster[0]).Z
		for j, k := range cluster {
			c := codec.Decode(k)
			mp[j] = orb.Point{c.X, c.Y}
			if c.Z < zMin {
				zMin = c.Z
			}
			if c.Z > zMax {
				zMax = c.Z
			}
		}
		all = append(all, mp...)

		centroid, _ := planar.CentroidArea(mp)
		f := geojson.NewFeature(mp)
		f.ID = i
		f.Properties["kind"] = "frontier-cluster"
		f.Properties["cells"] = len(cluster)
		f.Properties["zMin"] = zMin
		f.Properties["zMax"] = zMax
		f.Properties["centroid"] = []float64{centroid.X(), centroid.Y()}
		fc.Append(f)
	}

	bounds := geojson.NewFeature(all.Bound().ToPolygon())
	bounds.Properties["kind"] = "frontier-bounds"
	bounds.Properties["frame"] = frame
	bounds.Properties["resolution"] = codec.Resolution()
	fc.Append(bounds)
	return fc
}
