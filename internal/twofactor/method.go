package twofactor

// Method is a second-factor delivery mechanism. Call sites switch
// exhaustively over the three values; ParseMethod is the only way an
// external string becomes a Method.
type Method string

const (
	MethodTOTP  Method = "totp"
	MethodEmail Method = "email"
	MethodSMS   Method = "sms"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodTOTP:
		return MethodTOTP, nil
	case MethodEmail:
		return MethodEmail, nil
	case MethodSMS:
		return MethodSMS, nil
	default:
		return "", ErrUnknownMethod
	}
}

func (m Method) String() string {
	return string(m)
}

// Purpose scopes a one-time code to the flow that requested it.
type Purpose string

const (
	PurposeLogin   Purpose = "login"
	PurposeSetup   Purpose = "setup"
	PurposeDisable Purpose = "disable"
)
