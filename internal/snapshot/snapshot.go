// Package snapshot extracts the restorable subset of a light's reported state.
package snapshot

import "github.com/dokzlo13/huefx/internal/bridge"

// TransitionTime is the restore fade in tenths of a second.
const TransitionTime uint16 = 3

// Extract builds a restorable update from a reported state.
// Only the color fields implied by the color mode are kept; when the mode is
// unknown every color field that is present is kept.
func Extract(st bridge.LightState) bridge.StateUpdate {
	out := bridge.StateUpdate{
		On:             copyPtr(st.On),
		Bri:            copyPtr(st.Bri),
		TransitionTime: bridge.Ptr(TransitionTime),
	}

	switch st.ColorMode {
	case bridge.ColorModeCT:
		out.Ct = copyPtr(st.Ct)
	case bridge.ColorModeXY:
		out.Xy = copyXY(st.Xy)
	case bridge.ColorModeHS:
		out.Hue = copyPtr(st.Hue)
		out.Sat = copyPtr(st.Sat)
	default:
		out.Ct = copyPtr(st.Ct)
		out.Xy = copyXY(st.Xy)
		out.Hue = copyPtr(st.Hue)
		out.Sat = copyPtr(st.Sat)
	}

	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyXY(xy []float32) []float32 {
	if len(xy) == 0 {
		return nil
	}
	out := make([]float32, len(xy))
	copy(out, xy)
	return out
}
