package model

import "time"

// ViolationReason tags what a detector observed.
type ViolationReason string

const (
	ReasonTabSwitch      ViolationReason = "tab_switch"
	ReasonWindowBlur     ViolationReason = "window_blur"
	ReasonFocusLost      ViolationReason = "focus_lost"
	ReasonFullscreenExit ViolationReason = "fullscreen_exit"
	ReasonCopy           ViolationReason = "copy"
	ReasonPaste          ViolationReason = "paste"
	ReasonContextMenu    ViolationReason = "context_menu"
	ReasonRestrictedKey  ViolationReason = "restricted_key"
)

// Describe returns the human-readable text shown to the student.
func (r ViolationReason) Describe() string {
	switch r {
	case ReasonTabSwitch:
		return "Berpindah tab atau menyembunyikan halaman ujian."
	case ReasonWindowBlur:
		return "Meninggalkan jendela ujian."
	case ReasonFocusLost:
		return "Halaman ujian tidak lagi aktif."
	case ReasonFullscreenExit:
		return "Keluar dari mode layar penuh."
	case ReasonCopy:
		return "Menyalin konten ujian."
	case ReasonPaste:
		return "Menempelkan konten ke halaman ujian."
	case ReasonContextMenu:
		return "Membuka menu klik kanan."
	case ReasonRestrictedKey:
		return "Menekan kombinasi tombol terlarang."
	default:
		return "Aktivitas mencurigakan terdeteksi."
	}
}

// Violation is one recorded event. Count is the counter value after this event.
type Violation struct {
	Reason ViolationReason `json:"reason"`
	Detail string          `json:"detail,omitempty"`
	Count  int             `json:"count"`
	At     time.Time       `json:"at"`
}

// ViolationLog is a persisted violation row.
type ViolationLog struct {
	ID         int64           `json:"id"`
	TestID     string          `json:"test_id"`
	StudentID  int             `json:"student_id"`
	Reason     ViolationReason `json:"reason"`
	Detail     string          `json:"detail,omitempty"`
	Count      int             `json:"count"`
	RecordedAt time.Time       `json:"recorded_at"`
}
