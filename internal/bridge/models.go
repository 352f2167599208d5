package bridge

import "fmt"

// Color modes reported by the bridge in LightState.ColorMode.
const (
	ColorModeCT = "ct"
	ColorModeXY = "xy"
	ColorModeHS = "hs"
)

// LightState is the state of a light as reported by the bridge (v1 API).
// Pointer fields distinguish "absent" from a zero value.
type LightState struct {
	On        *bool     `json:"on,omitempty"`
	Bri       *uint8    `json:"bri,omitempty"` // brightness (0-254)
	Hue       *uint16   `json:"hue,omitempty"` // hue (0-65535)
	Sat       *uint8    `json:"sat,omitempty"` // saturation (0-254)
	Xy        []float32 `json:"xy,omitempty"`  // CIE xy color coordinates
	Ct        *uint16   `json:"ct,omitempty"`  // color temperature in mirek
	Alert     string    `json:"alert,omitempty"`
	Effect    string    `json:"effect,omitempty"`
	ColorMode string    `json:"colormode,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Reachable *bool     `json:"reachable,omitempty"`
}

// Light is a single light record from the bridge.
type Light struct {
	Name     string     `json:"name"`
	Type     string     `json:"type,omitempty"`
	ModelID  string     `json:"modelid,omitempty"`
	UniqueID string     `json:"uniqueid,omitempty"`
	State    LightState `json:"state"`
}

// StateUpdate is a partial state write. Only non-nil fields are sent,
// so a zero hue is written while an absent hue is left untouched.
type StateUpdate struct {
	On             *bool     `json:"on,omitempty"`
	Bri            *uint8    `json:"bri,omitempty"`
	Hue            *uint16   `json:"hue,omitempty"`
	Sat            *uint8    `json:"sat,omitempty"`
	Xy             []float32 `json:"xy,omitempty"`
	Ct             *uint16   `json:"ct,omitempty"`
	Alert          string    `json:"alert,omitempty"`
	Effect         string    `json:"effect,omitempty"`
	TransitionTime *uint16   `json:"transitiontime,omitempty"` // tenths of a second
}

// IsEmpty reports whether the update carries no fields at all.
func (u StateUpdate) IsEmpty() bool {
	return u.On == nil && u.Bri == nil && u.Hue == nil && u.Sat == nil &&
		u.Xy == nil && u.Ct == nil && u.Alert == "" && u.Effect == "" &&
		u.TransitionTime == nil
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// AckError is an error entry in a bridge acknowledgement.
type AckError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

// AckEntry is a single success or error entry returned by a state write.
type AckEntry struct {
	Success map[string]any `json:"success,omitempty"`
	Error   *AckError      `json:"error,omitempty"`
}

// Ack is the acknowledgement payload of a state write.
type Ack []AckEntry

// Err returns the first error reported by the bridge, if any.
// The bridge answers 200 even when individual attributes were rejected.
func (a Ack) Err() error {
	for _, e := range a {
		if e.Error != nil {
			return fmt.Errorf("bridge rejected %s: %s", e.Error.Address, e.Error.Description)
		}
	}
	return nil
}
