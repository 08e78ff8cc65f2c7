package plugin

// Category classifies a plugin by its declared purpose.
type Category uint8

const (
	CategoryEffect Category = iota
	CategorySynth
	CategoryAnalysis
	CategoryMastering
	CategorySpacializer
	CategoryRoomFx
	CategorySurroundFx
	CategoryRestoration
	CategoryOfflineProcess
	CategoryShell
	CategoryGenerator
	CategoryUnknown
)

// String returns a human-readable category name.
func (c Category) String() string {
	switch c {
	case CategoryEffect:
		return "effect"
	case CategorySynth:
		return "synth"
	case CategoryAnalysis:
		return "analysis"
	case CategoryMastering:
		return "mastering"
	case CategorySpacializer:
		return "spacializer"
	case CategoryRoomFx:
		return "room-fx"
	case CategorySurroundFx:
		return "surround-fx"
	case CategoryRestoration:
		return "restoration"
	case CategoryOfflineProcess:
		return "offline-process"
	case CategoryShell:
		return "shell"
	case CategoryGenerator:
		return "generator"
	default:
		return "unknown"
	}
}

// Info describes a discovered plugin: metadata reported by the probe
// plus the channel I/O counts the pipeline needs for validation.
type Info struct {
	Path       string
	Name       string
	Vendor     string
	Category   Category
	UniqueID   uint32
	Version    string
	Inputs     int
	Outputs    int
	Parameters int
	IsSynth    bool
}
