package twofactor

// VerifyStatus is the tri-state outcome of a verification. Infrastructure
// failures resolve to StatusFailed so they stay distinguishable in logs,
// but callers treat everything except StatusVerified as "not authenticated".
type VerifyStatus int

const (
	StatusInvalid VerifyStatus = iota // credential did not match
	StatusVerified                    // credential accepted
	StatusFailed                      // internal error, fail closed
)

func (s VerifyStatus) Verified() bool {
	return s == StatusVerified
}

func (s VerifyStatus) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusInvalid:
		return "invalid"
	default:
		return "failed"
	}
}
