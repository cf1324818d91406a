// Package errorsx attaches short machine-readable reason codes to errors
// so callers can branch on the failure class without matching messages.
package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConfig           ReasonCode = "config"
	ReasonGeneration       ReasonCode = "generation"
	ReasonPlanExtraction   ReasonCode = "plan_extraction"
	ReasonUnknownAction    ReasonCode = "unknown_action"
	ReasonQuotaExceeded    ReasonCode = "quota_exceeded"
	ReasonQuery            ReasonCode = "query"
	ReasonInvalidSignature ReasonCode = "invalid_signature"
	ReasonNotFound         ReasonCode = "not_found"
	ReasonInvalidArgs      ReasonCode = "invalid_args"
	ReasonRender           ReasonCode = "render"
)
