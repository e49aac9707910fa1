package params

import "time"

const (
	ServerBodyLimit    = 1048576 // 1 MiB
	ServerIdleTimeout  = 30 * time.Second
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second

	PartialTokenKeyPrefix = "pt:"
	MagicLinkKeyPrefix    = "ml:"
	OAuthStateKeyPrefix   = "os:"

	AccessTokenExpiration  = 15 * time.Minute
	RefreshTokenExpiration = 30 * 24 * time.Hour
	MagicLinkExpiration    = 15 * time.Minute // every mailed login link is valid for 15 minutes
	OAuthStateExpiration   = 5 * time.Minute  // oauth login state nonce lifetime
	CircleInviteExpiration = 7 * 24 * time.Hour

	RecoveryCodeGroups    = 3  // groups per recovery code
	RecoveryCodeGroupSize = 4  // characters per group
	DefaultRecoveryCodes  = 10 // codes per generated batch

	TrustedDeviceCookie = "kinship_device" // cookie carrying the signed device token
	TOTPIssuer          = "Kinship"        // issuer shown in authenticator apps

	HealthCheckServerAddr = ":3001" // health check server address
)
