package domain

type VerdictStatus string

const (
	VerdictCompliant    VerdictStatus = "compliant"
	VerdictNonCompliant VerdictStatus = "non_compliant"
	VerdictPartial      VerdictStatus = "partial"
	VerdictUnknown      VerdictStatus = "unknown"
)

// ComplianceVerdict is one row of the section table a compliance template asks the model for.
type ComplianceVerdict struct {
	Section string        `json:"section"`
	Status  VerdictStatus `json:"status"`
	Reason  string        `json:"reason"`
}
