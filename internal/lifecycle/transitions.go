package lifecycle

import (
	"slices"

	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

var validTransitions = map[models.ProcessingStatus][]models.ProcessingStatus{
	models.StatusPending:    {models.StatusProcessing},
	models.StatusProcessing: {models.StatusProcessed, models.StatusFailed},
	models.StatusProcessed:  {models.StatusProcessing},
	models.StatusFailed:     {models.StatusProcessing},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to models.ProcessingStatus) bool {
	return slices.Contains(validTransitions[from], to)
}

// NextStates lists the statuses reachable in one step from s.
func NextStates(s models.ProcessingStatus) []models.ProcessingStatus {
	return slices.Clone(validTransitions[s])
}
