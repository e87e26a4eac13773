package domain

import (
	"slices"
	"strings"
)

// Stage represents an ordered workflow column a work item moves through.
type Stage string

// Canonical workflow stages, in board order.
const (
	StageSubmission  Stage = "submission"
	StageTranslation Stage = "translation"
	StageReview      Stage = "review"
	StagePrint       Stage = "print"
	StageDone        Stage = "done"
)

// stageOrder defines the canonical left-to-right board ordering.
var stageOrder = []Stage{
	StageSubmission,
	StageTranslation,
	StageReview,
	StagePrint,
	StageDone,
}

// Stages returns all canonical stages in board order.
func Stages() []Stage {
	return slices.Clone(stageOrder)
}

// NormalizeStage canonicalizes stage aliases.
func NormalizeStage(stage Stage) Stage {
	switch strings.TrimSpace(strings.ToLower(string(stage))) {
	case "submission", "submitted", "inbox":
		return StageSubmission
	case "translation", "translating":
		return StageTranslation
	case "review", "reviewing":
		return StageReview
	case "print", "printing":
		return StagePrint
	case "done", "complete", "completed":
		return StageDone
	default:
		return Stage(strings.TrimSpace(strings.ToLower(string(stage))))
	}
}

// IsValidStage reports whether the stage is canonical.
func IsValidStage(stage Stage) bool {
	return slices.Contains(stageOrder, NormalizeStage(stage))
}

// Position returns the board index of the stage, or -1 when unknown.
func (s Stage) Position() int {
	return slices.Index(stageOrder, NormalizeStage(s))
}
