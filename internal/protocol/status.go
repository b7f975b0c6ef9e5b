package protocol

// Status literals exchanged as single blocks during authentication and
// registration.
const (
	StatusFailed          = "failed"
	StatusPassed          = "passed"
	StatusNewDevice       = "new device"
	StatusChallenge       = "challenge"
	StatusTooManyAttempts = "too many attempts"
	StatusApprove         = "approve"
	StatusReject          = "reject"
	StatusTaken           = "taken"
	StatusInvalid         = "invalid"
	StatusRegistered      = "registered"
	CommandSignup         = "/signup"
	CommandCancel         = "c"
)
