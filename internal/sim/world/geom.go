package world

import (
	"math"

	"windrift.gg/internal/protocol"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteVec(v protocol.Vec3) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func finiteQuat(q protocol.Quat) bool {
	return finite(q.X) && finite(q.Y) && finite(q.Z) && finite(q.W)
}

func distSq(a, b protocol.Vec3) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}

func quatDot(a, b protocol.Quat) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z + a.W*b.W
}
