package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrTestNotFound          ErrCode = "TEST_NOT_FOUND"
	ErrTestUnavailable       ErrCode = "TEST_UNAVAILABLE"
	ErrSessionNotOpen        ErrCode = "SESSION_NOT_OPEN"
	ErrSessionFinished       ErrCode = "SESSION_FINISHED"
	ErrSessionNotRunning     ErrCode = "SESSION_NOT_RUNNING"
	ErrSessionAlreadyStarted ErrCode = "SESSION_ALREADY_STARTED"
	ErrSessionReplaced       ErrCode = "SESSION_REPLACED"
	ErrFullscreenRequired    ErrCode = "FULLSCREEN_REQUIRED"
	ErrAlreadySubmitted      ErrCode = "ALREADY_SUBMITTED"
	ErrQuestionOutOfRange    ErrCode = "QUESTION_OUT_OF_RANGE"
	ErrInvalidAnswer         ErrCode = "INVALID_ANSWER"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal          ErrCode = "INTERNAL_ERROR"
	ErrServiceRestarting ErrCode = "SERVICE_RESTARTING"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrUnknownAction:
		return "Aksi tidak dikenal."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrTestNotFound:
		return "Ujian tidak ditemukan."
	case ErrTestUnavailable:
		return "Soal ujian gagal dimuat. Silakan coba lagi."
	case ErrSessionNotOpen:
		return "Sesi ujian belum dibuka."
	case ErrSessionFinished:
		return "Ujian ini sudah Anda kumpulkan."
	case ErrSessionNotRunning:
		return "Ujian sedang tidak berlangsung."
	case ErrSessionAlreadyStarted:
		return "Ujian sudah dimulai."
	case ErrSessionReplaced:
		return "Ujian dibuka di jendela lain."
	case ErrServiceRestarting:
		return "Server sedang dimulai ulang. Silakan sambungkan kembali."
	case ErrFullscreenRequired:
		return "Ujian hanya dapat dimulai dalam mode layar penuh."
	case ErrAlreadySubmitted:
		return "Jawaban sudah dikumpulkan."
	case ErrQuestionOutOfRange:
		return "Nomor soal tidak valid."
	case ErrInvalidAnswer:
		return "Jawaban tidak sesuai dengan jenis soal."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
