package service

import (
	"github.com/michaelodikeme/coop-nest-approvals/internal/repository"
)

// allowedTransitions is the fixed status transition table. PENDING may skip
// IN_REVIEW straight to REVIEWED to fast-track a request; keep that entry.
var allowedTransitions = map[repository.Status][]repository.Status{
	repository.StatusPending: {
		repository.StatusInReview,
		repository.StatusReviewed,
		repository.StatusRejected,
		repository.StatusCancelled,
	},
	repository.StatusInReview: {
		repository.StatusReviewed,
		repository.StatusRejected,
		repository.StatusCancelled,
	},
	repository.StatusReviewed: {
		repository.StatusApproved,
		repository.StatusRejected,
		repository.StatusCancelled,
	},
	repository.StatusApproved: {
		repository.StatusCompleted,
		repository.StatusRejected,
		repository.StatusCancelled,
	},
	repository.StatusRejected:  {},
	repository.StatusCompleted: {},
	repository.StatusCancelled: {},
}

// AllowedNext returns the statuses reachable from current in one step.
func AllowedNext(current repository.Status) []repository.Status {
	return allowedTransitions[current]
}

// TransitionAllowed reports whether current → target is a legal transition.
func TransitionAllowed(current, target repository.Status) bool {
	for _, s := range allowedTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}
