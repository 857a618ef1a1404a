package rail

import "strings"

// Validate checks the caller-supplied fields of a train. Identity and
// timestamps are owned by the registry and are not inspected.
func (t Train) Validate() error {
	if t.TrainNumber == 0 {
		return Validationf("train_number must be non-zero")
	}
	if strings.TrimSpace(t.Name) == "" {
		return Validationf("name must not be empty")
	}
	if !t.Priority.Valid() {
		return Validationf("invalid priority %d", uint8(t.Priority))
	}
	if !t.Direction.Valid() {
		return Validationf("invalid direction %q", t.Direction)
	}
	if t.Status != "" && !t.Status.Valid() {
		return Validationf("invalid status %q", t.Status)
	}
	if t.SpeedKmh < 0 {
		return Validationf("speed_kmh must be >= 0, got %v", t.SpeedKmh)
	}
	if !t.Position.Valid() {
		return Validationf("position out of range: %v,%v", t.Position.Latitude, t.Position.Longitude)
	}
	if len(t.Route) == 0 {
		return Validationf("route must not be empty")
	}
	for _, s := range t.Route {
		if strings.TrimSpace(s) == "" {
			return Validationf("route contains an empty section id")
		}
	}
	return nil
}
