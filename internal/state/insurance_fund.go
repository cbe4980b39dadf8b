package state

// InsuranceFund splits a liquidation shortfall between the pool's insurance
// balance and the LP fee pool. Balances live in the collateral ledger
// (system:insurance and system:lp_fees); this only computes the split.
type InsuranceFund struct{}

func NewInsuranceFund() *InsuranceFund {
	return &InsuranceFund{}
}

// ComputeCoverage returns how much of deficit the fund covers and what is
// left to socialize.
func (f *InsuranceFund) ComputeCoverage(fundBalance int64, deficit int64) (covered int64, remaining int64) {
	if fundBalance <= 0 {
		return 0, deficit
	}
	if fundBalance >= deficit {
		return deficit, 0
	}
	return fundBalance, deficit - fundBalance
}
