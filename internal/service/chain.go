package service

import (
	"github.com/michaelodikeme/coop-nest-approvals/internal/repository"
)

// Role names recognised by the approval chains and the role directory.
const (
	RoleAdmin     = "ADMIN"
	RoleTreasurer = "TREASURER"
	RoleChairman  = "CHAIRMAN"
)

// ChainLevel is one rung of a request type's approval chain.
type ChainLevel struct {
	Level        int
	ApproverRole string
	Notes        string
}

// approvalChains maps each request type to its ordered approval chain.
// Levels are listed in order; ResolveChain numbers them 1..N. Adding a new
// request type is a one-line table edit.
var approvalChains = map[repository.RequestType][]ChainLevel{
	repository.TypeBiodataUpdate: {
		{ApproverRole: RoleAdmin, Notes: "Verify the requested biodata changes against submitted documents"},
		{ApproverRole: RoleChairman, Notes: "Final sign-off on member biodata change"},
	},
	repository.TypeAccountUpdate: {
		{ApproverRole: RoleAdmin, Notes: "Verify account detail changes"},
		{ApproverRole: RoleChairman, Notes: "Final sign-off on account update"},
	},
	repository.TypeAccountCreation: {
		{ApproverRole: RoleAdmin, Notes: "Verify new member documentation"},
		{ApproverRole: RoleChairman, Notes: "Admit the new member"},
	},
	repository.TypeAccountClosure: {
		{ApproverRole: RoleAdmin, Notes: "Confirm member's exit request"},
		{ApproverRole: RoleTreasurer, Notes: "Confirm all balances are settled"},
		{ApproverRole: RoleChairman, Notes: "Final sign-off on account closure"},
	},
	repository.TypeAccountVerification: {
		{ApproverRole: RoleAdmin, Notes: "Verify member identity documents"},
	},
	repository.TypeLoanApplication: {
		{ApproverRole: RoleAdmin, Notes: "Check application completeness and guarantors"},
		{ApproverRole: RoleTreasurer, Notes: "Assess repayment capacity and exposure"},
		{ApproverRole: RoleChairman, Notes: "Committee decision on the loan"},
		{ApproverRole: RoleTreasurer, Notes: "Confirm funds availability before disbursement"},
	},
	repository.TypeLoanDisbursement: {
		{ApproverRole: RoleTreasurer, Notes: "Verify disbursement schedule"},
		{ApproverRole: RoleChairman, Notes: "Authorize the disbursement"},
	},
	repository.TypeSavingsWithdrawal: {
		{ApproverRole: RoleTreasurer, Notes: "Check balance and withdrawal limits"},
		{ApproverRole: RoleChairman, Notes: "Authorize the withdrawal"},
		{ApproverRole: RoleTreasurer, Notes: "Confirm payout"},
	},
	repository.TypePersonalSavingsCreation: {
		{ApproverRole: RoleTreasurer, Notes: "Review the proposed plan terms"},
		{ApproverRole: RoleChairman, Notes: "Approve plan creation"},
	},
	repository.TypePersonalSavingsWithdrawal: {
		{ApproverRole: RoleTreasurer, Notes: "Check plan balance against the requested amount"},
		{ApproverRole: RoleChairman, Notes: "Authorize the withdrawal"},
		{ApproverRole: RoleTreasurer, Notes: "Confirm payout"},
	},
	repository.TypeBulkUpload: {
		{ApproverRole: RoleAdmin, Notes: "Validate the uploaded records"},
		{ApproverRole: RoleChairman, Notes: "Accept the bulk change"},
	},
	repository.TypeSystemAdjustment: {
		{ApproverRole: RoleAdmin, Notes: "Verify the adjustment details"},
		{ApproverRole: RoleChairman, Notes: "Authorize the adjustment"},
		{ApproverRole: RoleTreasurer, Notes: "Confirm ledger impact"},
	},
}

// defaultChain keeps request creation total: unknown types get a single
// admin-reviewed level instead of failing.
var defaultChain = []ChainLevel{
	{ApproverRole: RoleAdmin, Notes: "Review the request"},
}

// ResolveChain returns the ordered approval chain for a request type, with
// levels numbered 1..N contiguously. Pure and total.
func ResolveChain(t repository.RequestType) []ChainLevel {
	src, ok := approvalChains[t]
	if !ok {
		src = defaultChain
	}

	chain := make([]ChainLevel, len(src))
	for i, lvl := range src {
		lvl.Level = i + 1
		chain[i] = lvl
	}
	return chain
}
