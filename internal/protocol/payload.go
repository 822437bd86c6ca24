package protocol

// UpdatePayload carries the independently-optional fields of an entity
// update. Each vector/quaternion can arrive in nested form (position),
// flat per-axis form (positionX/positionY/positionZ), or both; the flat
// form overrides the nested form axis by axis when both are present.
type UpdatePayload struct {
	Position *Vec3 `json:"position,omitempty"`
	Velocity *Vec3 `json:"velocity,omitempty"`
	Rotation *Quat `json:"rotation,omitempty"`

	PositionX *float64 `json:"positionX,omitempty"`
	PositionY *float64 `json:"positionY,omitempty"`
	PositionZ *float64 `json:"positionZ,omitempty"`

	VelocityX *float64 `json:"velocityX,omitempty"`
	VelocityY *float64 `json:"velocityY,omitempty"`
	VelocityZ *float64 `json:"velocityZ,omitempty"`

	RotationX *float64 `json:"rotationX,omitempty"`
	RotationY *float64 `json:"rotationY,omitempty"`
	RotationZ *float64 `json:"rotationZ,omitempty"`
	RotationW *float64 `json:"rotationW,omitempty"`

	Region *string `json:"region,omitempty"`
	Zone   *string `json:"zone,omitempty"`
}

// ResolvePosition merges the payload's position fields over cur and reports
// whether any position field was present.
func (p *UpdatePayload) ResolvePosition(cur Vec3) (Vec3, bool) {
	set := false
	if p.Position != nil {
		cur = *p.Position
		set = true
	}
	if p.PositionX != nil {
		cur.X = *p.PositionX
		set = true
	}
	if p.PositionY != nil {
		cur.Y = *p.PositionY
		set = true
	}
	if p.PositionZ != nil {
		cur.Z = *p.PositionZ
		set = true
	}
	return cur, set
}

// ResolveVelocity merges the payload's velocity fields over cur.
func (p *UpdatePayload) ResolveVelocity(cur Vec3) (Vec3, bool) {
	set := false
	if p.Velocity != nil {
		cur = *p.Velocity
		set = true
	}
	if p.VelocityX != nil {
		cur.X = *p.VelocityX
		set = true
	}
	if p.VelocityY != nil {
		cur.Y = *p.VelocityY
		set = true
	}
	if p.VelocityZ != nil {
		cur.Z = *p.VelocityZ
		set = true
	}
	return cur, set
}

// ResolveRotation merges the payload's rotation fields over cur.
func (p *UpdatePayload) ResolveRotation(cur Quat) (Quat, bool) {
	set := false
	if p.Rotation != nil {
		cur = *p.Rotation
		set = true
	}
	if p.RotationX != nil {
		cur.X = *p.RotationX
		set = true
	}
	if p.RotationY != nil {
		cur.Y = *p.RotationY
		set = true
	}
	if p.RotationZ != nil {
		cur.Z = *p.RotationZ
		set = true
	}
	if p.RotationW != nil {
		cur.W = *p.RotationW
		set = true
	}
	return cur, set
}
