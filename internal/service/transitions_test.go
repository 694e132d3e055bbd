package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/michaelodikeme/coop-nest-approvals/internal/repository"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]repository.Status]bool{
		{repository.StatusPending, repository.StatusInReview}:  true,
		{repository.StatusPending, repository.StatusReviewed}:  true,
		{repository.StatusPending, repository.StatusRejected}:  true,
		{repository.StatusPending, repository.StatusCancelled}: true,

		{repository.StatusInReview, repository.StatusReviewed}:  true,
		{repository.StatusInReview, repository.StatusRejected}:  true,
		{repository.StatusInReview, repository.StatusCancelled}: true,

		{repository.StatusReviewed, repository.StatusApproved}:  true,
		{repository.StatusReviewed, repository.StatusRejected}:  true,
		{repository.StatusReviewed, repository.StatusCancelled}: true,

		{repository.StatusApproved, repository.StatusCompleted}: true,
		{repository.StatusApproved, repository.StatusRejected}:  true,
		{repository.StatusApproved, repository.StatusCancelled}: true,
	}

	all := []repository.Status{
		repository.StatusPending, repository.StatusInReview, repository.StatusReviewed,
		repository.StatusApproved, repository.StatusRejected, repository.StatusCompleted,
		repository.StatusCancelled,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]repository.Status{from, to}]
			require.Equal(t, want, TransitionAllowed(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, s := range []repository.Status{
		repository.StatusRejected,
		repository.StatusCompleted,
		repository.StatusCancelled,
	} {
		require.Empty(t, AllowedNext(s), "status %s", s)
	}
}

func TestNoTransitionSkipsApproval(t *testing.T) {
	// COMPLETED is reachable from APPROVED only.
	for _, from := range []repository.Status{
		repository.StatusPending, repository.StatusInReview, repository.StatusReviewed,
	} {
		require.False(t, TransitionAllowed(from, repository.StatusCompleted), "from %s", from)
	}
}
