package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionExpired     ErrCode = "SESSION_EXPIRED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"
	ErrWrongPassword      ErrCode = "WRONG_PASSWORD"
	ErrPasswordTooShort   ErrCode = "PASSWORD_TOO_SHORT"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrDeviceOnly      ErrCode = "DEVICE_ACCESS_ONLY"
	ErrAdminAccessOnly ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidBackup  ErrCode = "INVALID_BACKUP"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrConflict        ErrCode = "CONFLICT"
	ErrUsernameTaken   ErrCode = "USERNAME_TAKEN"
	ErrUserNotFound    ErrCode = "USER_NOT_FOUND"
	ErrActionForbidden ErrCode = "ACTION_FORBIDDEN"

	// ─── Rewards ───────────────────────────────────────────────────────
	ErrRewardExists     ErrCode = "REWARD_ALREADY_GENERATED"
	ErrRewardInvalidQR  ErrCode = "REWARD_INVALID_QR"
	ErrRewardClaimed    ErrCode = "REWARD_ALREADY_CLAIMED"
	ErrExaminerNotFound ErrCode = "EXAMINER_NOT_FOUND"

	// ─── Sync ──────────────────────────────────────────────────────────
	ErrUnknownCollection ErrCode = "UNKNOWN_COLLECTION"
	ErrSyncRejected      ErrCode = "SYNC_REJECTED"
	ErrAuthorityOffline  ErrCode = "AUTHORITY_OFFLINE"
	ErrQuotaExceeded     ErrCode = "LOCAL_STORAGE_QUOTA_EXCEEDED"

	// ─── Media ─────────────────────────────────────────────────────────
	ErrFileRequired    ErrCode = "FILE_REQUIRED"
	ErrUnsupportedFile ErrCode = "UNSUPPORTED_FILE_TYPE"
	ErrFileTooLarge    ErrCode = "FILE_TOO_LARGE"

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
		return "Username atau password salah!"
	case ErrSessionExpired:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."
	case ErrWrongPassword:
		return "Password lama salah!"
	case ErrPasswordTooShort:
		return "Password baru minimal 4 karakter!"

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrDeviceOnly:
		return "Sumber daya ini terbatas untuk perangkat terdaftar."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk panitia utama."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidBackup:
		return "Format backup tidak valid!"

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."
	case ErrUsernameTaken:
		return "Username sudah ada!"
	case ErrUserNotFound:
		return "User tidak ditemukan!"
	case ErrActionForbidden:
		return "Tindakan ini tidak diperbolehkan."

	// ─── Rewards ───────────────────────────────────────────────────────
	case ErrRewardExists:
		return "Reward sudah di-generate sebelumnya!"
	case ErrRewardInvalidQR:
		return "QR Code tidak valid!"
	case ErrRewardClaimed:
		return "Reward sudah diklaim!"
	case ErrExaminerNotFound:
		return "Penguji tidak ditemukan."

	// ─── Sync ──────────────────────────────────────────────────────────
	case ErrUnknownCollection:
		return "Koleksi data tidak dikenal."
	case ErrSyncRejected:
		return "Sinkronisasi ditolak oleh server."
	case ErrAuthorityOffline:
		return "Server pusat tidak dapat dihubungi."
	case ErrQuotaExceeded:
		return "Penyimpanan lokal penuh. Data terbaru tidak tersimpan."

	// ─── Media ─────────────────────────────────────────────────────────
	case ErrFileRequired:
		return "Unggah file diperlukan."
	case ErrUnsupportedFile:
		return "Jenis file tidak didukung."
	case ErrFileTooLarge:
		return "Ukuran file melebihi batas."

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
