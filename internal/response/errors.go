package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidAnswer  ErrCode = "INVALID_ANSWER"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotAvailable     ErrCode = "EXAM_NOT_AVAILABLE"
	ErrNoQuestions          ErrCode = "NO_QUESTIONS"
	ErrExamRevisionRequired ErrCode = "EXAM_REVISION_REQUIRED"

	// ─── Session ───────────────────────────────────────────────────────
	ErrSessionNotFound     ErrCode = "SESSION_NOT_FOUND"
	ErrSessionNotActive    ErrCode = "SESSION_NOT_ACTIVE"
	ErrUnknownQuestion     ErrCode = "UNKNOWN_QUESTION"
	ErrQuestionOutOfRange  ErrCode = "QUESTION_OUT_OF_RANGE"
	ErrLoadFailed          ErrCode = "LOAD_FAILED"
	ErrSubmissionFailed    ErrCode = "SUBMISSION_FAILED"
	ErrBackendUnavailable  ErrCode = "BACKEND_UNAVAILABLE"
	ErrInvalidExamResponse ErrCode = "INVALID_EXAM_RESPONSE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "NISN atau kata sandi salah."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan. Silakan login terlebih dahulu."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidAnswer:
		return "Jawaban tidak sesuai dengan jenis soal."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."
	case ErrExamRevisionRequired:
		return "Ujian ini sedang dalam revisi. Silakan buka halaman tinjauan."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan. Silakan mulai ujian terlebih dahulu."
	case ErrSessionNotActive:
		return "Sesi ujian tidak aktif."
	case ErrUnknownQuestion:
		return "Soal tidak termasuk dalam ujian ini."
	case ErrQuestionOutOfRange:
		return "Nomor soal di luar jangkauan."
	case ErrLoadFailed:
		return "Gagal memuat ujian. Silakan coba lagi."
	case ErrSubmissionFailed:
		return "Gagal mengirim jawaban. Silakan coba lagi."
	case ErrBackendUnavailable:
		return "Server ujian tidak dapat dihubungi."
	case ErrInvalidExamResponse:
		return "Data ujian dari server tidak valid."

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
