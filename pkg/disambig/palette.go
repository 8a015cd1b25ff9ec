package disambig

import "image/color"

// LabelSlot pairs a candidate label with its marker color.
type LabelSlot struct {
	Label string
	Color color.NRGBA
}

// Palette is the fixed label budget for disambiguation overlays. More
// candidates than slots is a configuration error, not a runtime
// fallback.
var Palette = []LabelSlot{
	{"A", color.NRGBA{230, 25, 75, 255}},   // red
	{"B", color.NRGBA{60, 180, 75, 255}},   // green
	{"C", color.NRGBA{0, 130, 200, 255}},   // blue
	{"D", color.NRGBA{245, 130, 48, 255}},  // orange
	{"E", color.NRGBA{145, 30, 180, 255}},  // purple
	{"F", color.NRGBA{70, 240, 240, 255}},  // cyan
	{"G", color.NRGBA{240, 50, 230, 255}},  // magenta
	{"H", color.NRGBA{128, 128, 0, 255}},   // olive
	{"I", color.NRGBA{0, 0, 128, 255}},     // navy
}
