package domain

// IntelHRStatus is the 3-value HR projection shown in search results.
type IntelHRStatus string

const (
	IntelHRSafe   IntelHRStatus = "SAFE"
	IntelHRActive IntelHRStatus = "ACTIVE"
	IntelHRRisk   IntelHRStatus = "RISK"
)

// IntelSiteStatus is the 3-value site health projection.
type IntelSiteStatus string

const (
	IntelSiteOK        IntelSiteStatus = "OK"
	IntelSiteThrottled IntelSiteStatus = "THROTTLED"
	IntelSiteError     IntelSiteStatus = "ERROR"
)
