package world

import (
	"math"

	"windrift.gg/internal/protocol"
)

// maxCellRadius bounds the number of cells visited by a radius query no
// matter how large the requested distance is.
const maxCellRadius = 10

type cellKey struct {
	X, Y, Z int32
}

// spatialGrid is a fixed-cell-size index of entity positions. Cells are
// created lazily and deleted when empty. Accessed only from the manager
// loop goroutine; no locks.
type spatialGrid struct {
	cellSize float64
	inv      float64
	cells    map[cellKey]map[string]*Entity
}

func newSpatialGrid(cellSize float64) *spatialGrid {
	return &spatialGrid{
		cellSize: cellSize,
		inv:      1.0 / cellSize,
		cells:    make(map[cellKey]map[string]*Entity),
	}
}

func (g *spatialGrid) cellFor(pos protocol.Vec3) cellKey {
	return cellKey{
		X: int32(math.Floor(pos.X * g.inv)),
		Y: int32(math.Floor(pos.Y * g.inv)),
		Z: int32(math.Floor(pos.Z * g.inv)),
	}
}

func (g *spatialGrid) insert(e *Entity, pos protocol.Vec3) {
	k := g.cellFor(pos)
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[string]*Entity)
		g.cells[k] = cell
	}
	cell[e.ID] = e
}

func (g *spatialGrid) remove(id string, pos protocol.Vec3) {
	k := g.cellFor(pos)
	cell := g.cells[k]
	if cell == nil {
		return
	}
	delete(cell, id)
	if len(cell) == 0 {
		delete(g.cells, k)
	}
}

// move relocates e only when the cell key actually changes.
func (g *spatialGrid) move(e *Entity, oldPos, newPos protocol.Vec3) {
	oldK := g.cellFor(oldPos)
	newK := g.cellFor(newPos)
	if oldK == newK {
		return
	}
	g.remove(e.ID, oldPos)
	g.insert(e, newPos)
}

func (g *spatialGrid) cellCount() int { return len(g.cells) }

type neighbor struct {
	Entity *Entity
	Dist   float64
}

// queryRadius returns every entity within maxDist of pos, with its true
// distance. Cells are pre-filtered with an exact point-to-AABB distance test
// so a boundary cell that contains a true match is never culled.
func (g *spatialGrid) queryRadius(pos protocol.Vec3, maxDist float64) []neighbor {
	if maxDist <= 0 {
		return nil
	}
	cr := int32(math.Ceil(maxDist*g.inv)) + 1
	if cr > maxCellRadius {
		cr = maxCellRadius
	}
	center := g.cellFor(pos)
	maxDistSq := maxDist * maxDist

	var out []neighbor
	for dx := -cr; dx <= cr; dx++ {
		for dy := -cr; dy <= cr; dy++ {
			for dz := -cr; dz <= cr; dz++ {
				k := cellKey{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				cell := g.cells[k]
				if len(cell) == 0 {
					continue
				}
				if g.cellDistSq(k, pos) > maxDistSq {
					continue
				}
				for _, e := range cell {
					d2 := distSq(e.Pos, pos)
					if d2 <= maxDistSq {
						out = append(out, neighbor{Entity: e, Dist: math.Sqrt(d2)})
					}
				}
			}
		}
	}
	return out
}

// cellDistSq is the squared distance from pos to the nearest point of the
// cell's axis-aligned bounding box (zero when pos is inside the cell).
func (g *spatialGrid) cellDistSq(k cellKey, pos protocol.Vec3) float64 {
	d := axisDist(pos.X, float64(k.X)*g.cellSize, g.cellSize)
	sum := d * d
	d = axisDist(pos.Y, float64(k.Y)*g.cellSize, g.cellSize)
	sum += d * d
	d = axisDist(pos.Z, float64(k.Z)*g.cellSize, g.cellSize)
	sum += d * d
	return sum
}

func axisDist(v, lo, size float64) float64 {
	if v < lo {
		return lo - v
	}
	if hi := lo + size; v > hi {
		return v - hi
	}
	return 0
}
