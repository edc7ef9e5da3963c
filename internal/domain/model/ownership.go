package model

// Unassigned is the patient id reported for devices with no matching assignment.
const Unassigned = "UNASSIGNED"

// Assignment status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Assignment binds a device to a patient over [AssignedAt, ReleasedAt).
// A nil ReleasedAt means the binding is still open.
type Assignment struct {
	DeviceID   string `json:"device_id"`
	PatientID  string `json:"patient_id"`
	AssignedAt int64  `json:"assigned_at"`
	ReleasedAt *int64 `json:"released_at,omitempty"`
	Status     string `json:"status"`
}

// Covers reports whether the assignment interval contains ts.
// An open assignment only counts while its status is active.
func (a Assignment) Covers(ts int64) bool {
	if a.AssignedAt > ts {
		return false
	}
	if a.ReleasedAt == nil {
		return a.Status == StatusActive
	}
	return *a.ReleasedAt > ts
}

// ResolveOwner returns the patient of the most recent assignment covering asOf,
// or Unassigned.
func ResolveOwner(assignments []Assignment, asOf int64) string {
	var (
		best  *Assignment
		found bool
	)
	for i := range assignments {
		a := &assignments[i]
		if !a.Covers(asOf) {
			continue
		}
		if !found || a.AssignedAt > best.AssignedAt {
			best, found = a, true
		}
	}
	if !found || best.PatientID == "" {
		return Unassigned
	}
	return best.PatientID
}
