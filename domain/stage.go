package domain

// Stage is one named step in an order's workflow.
type Stage string

const (
	StageSetup           Stage = "setup"
	StageConfirmation    Stage = "confirmation"
	StageFileCreation    Stage = "file-creation"
	StageFileApproval    Stage = "file-approval"
	StageQueued          Stage = "queued"
	StageInProgress      Stage = "in-progress"
	StageQualityCheck    Stage = "quality-check"
	StageShipping        Stage = "shipping"
	StagePickup          Stage = "pickup"
	StageAwaitingPayment Stage = "awaiting-payment"
	StageCompleted       Stage = "completed"
	StageCancelled       Stage = "cancelled"
	StageOnHold          Stage = "on-hold"
)

// OverlayRush is the read-only rush view shown alongside the stage columns.
// It mirrors rush orders from every visible stage and is not a destination:
// moves onto it are rejected before any state changes.
const OverlayRush Stage = "rush"

// Layout describes how a stage is presented on the board. The rank orders
// columns left to right; it carries no meaning for transitions, which may go
// from any stage to any other stage.
type Layout struct {
	Rank       int    `json:"rank"`
	Hidden     bool   `json:"hidden"`
	StackGroup string `json:"stackGroup,omitempty"`
	Collapsed  bool   `json:"collapsed"`
}

var stageLayouts = map[Stage]Layout{
	StageSetup:           {Rank: 0},
	StageConfirmation:    {Rank: 1},
	StageFileCreation:    {Rank: 2, StackGroup: "files"},
	StageFileApproval:    {Rank: 3, StackGroup: "files"},
	StageQueued:          {Rank: 4},
	StageInProgress:      {Rank: 5},
	StageQualityCheck:    {Rank: 6},
	StageShipping:        {Rank: 7, StackGroup: "fulfillment"},
	StagePickup:          {Rank: 8, StackGroup: "fulfillment"},
	StageAwaitingPayment: {Rank: 9, Collapsed: true},
	StageCompleted:       {Rank: 10, Hidden: true},
	StageCancelled:       {Rank: 11, Hidden: true},
	StageOnHold:          {Rank: 12, Hidden: true},
}

var orderedStages = []Stage{
	StageSetup,
	StageConfirmation,
	StageFileCreation,
	StageFileApproval,
	StageQueued,
	StageInProgress,
	StageQualityCheck,
	StageShipping,
	StagePickup,
	StageAwaitingPayment,
	StageCompleted,
	StageCancelled,
	StageOnHold,
}

// Stages returns every workflow stage in display order.
func Stages() []Stage {
	out := make([]Stage, len(orderedStages))
	copy(out, orderedStages)
	return out
}

// VisibleStages returns the stages shown without the show-all toggle.
func VisibleStages() []Stage {
	out := make([]Stage, 0, len(orderedStages))
	for _, s := range orderedStages {
		if !stageLayouts[s].Hidden {
			out = append(out, s)
		}
	}
	return out
}

// StageLayout returns the layout entry for a stage. The second return is
// false for unknown stages and for the rush overlay.
func StageLayout(s Stage) (Layout, bool) {
	l, ok := stageLayouts[s]
	return l, ok
}

// IsStage reports whether s names a real workflow stage.
func IsStage(s Stage) bool {
	_, ok := stageLayouts[s]
	return ok
}

// IsOverlay reports whether s names a read-only overlay view.
func IsOverlay(s Stage) bool {
	return s == OverlayRush
}
