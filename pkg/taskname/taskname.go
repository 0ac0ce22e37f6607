package taskname

const (
	// License usage tasks
	LicenseUsageResetMonthly = "license:usage:reset_monthly"

	// License expiry tasks
	LicenseExpiryScan = "license:expiry:scan"
)
