package protocol

// Wire-facing error codes carried by ErrorMessage and audio.cancel
// reason tags.
const (
	CodeInvalidRequest           = "INVALID_REQUEST"
	CodeTierNotAllowed           = "TTS_TIER_NOT_ALLOWED"
	CodeVoiceNotAllowed          = "TTS_VOICE_NOT_ALLOWED"
	CodeTTSDisabled              = "TTS_DISABLED"
	CodeTTSQuotaExceeded         = "TTS_QUOTA_EXCEEDED"
	CodeProviderPermissionDenied = "TTS_PROVIDER_PERMISSION_DENIED"
	CodeProviderInvalidArgument  = "TTS_PROVIDER_INVALID_ARGUMENT"
	CodeProviderUnsupportedVoice = "TTS_PROVIDER_UNSUPPORTED_VOICE"
	CodeProviderRateLimited      = "TTS_PROVIDER_RATE_LIMITED"
	CodeSynthesisFailed          = "TTS_SYNTHESIS_FAILED"
	CodeTranslationUnavailable   = "TRANSLATION_UNAVAILABLE"
	CodeCancelled                = "CANCELLED"
	CodeInvalidFrame             = "INVALID_FRAME"
	CodeMetadataTooLarge         = "METADATA_TOO_LARGE"
)
