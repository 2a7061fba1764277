package game

// FrameCount is the number of frames a draw can land on. Draw outcomes and
// wager targets are frame ids in [1, FrameCount].
const FrameCount = 20

// frameNames maps frame id to display name. Index 0 is unused.
var frameNames = [FrameCount + 1]string{
	"",
	"Aegis",
	"Banshee",
	"Cinder",
	"Dervish",
	"Ember",
	"Frostbite",
	"Gale",
	"Harrow",
	"Ionis",
	"Juggernaut",
	"Kestrel",
	"Lumen",
	"Mirage",
	"Nyx",
	"Onyx",
	"Phantom",
	"Quake",
	"Revenant",
	"Sentinel",
	"Tempest",
}

// Frame is one catalog entry.
type Frame struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ValidFrame reports whether id is a known frame.
func ValidFrame(id int) bool {
	return id >= 1 && id <= FrameCount
}

// FrameName returns the display name for a frame id, or "" when unknown.
func FrameName(id int) string {
	if !ValidFrame(id) {
		return ""
	}
	return frameNames[id]
}

// Frames returns the full catalog in id order.
func Frames() []Frame {
	out := make([]Frame, 0, FrameCount)
	for id := 1; id <= FrameCount; id++ {
		out = append(out, Frame{ID: id, Name: frameNames[id]})
	}
	return out
}
