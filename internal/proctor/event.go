package proctor

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventType names what a session emitted.
type EventType string

const (
	EventState        EventType = "state"
	EventOrder        EventType = "order"
	EventTick         EventType = "tick"
	EventViolation    EventType = "violation"
	EventNotice       EventType = "notice"
	EventAnswer       EventType = "answer"
	EventReview       EventType = "review"
	EventSubmitted    EventType = "submitted"
	EventSubmitFailed EventType = "submit_failed"
	EventNavigate     EventType = "navigate"
)

// NoticeLevel is the severity of a user-visible notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a message shown to the student. Terminal notices close the session view.
type Notice struct {
	Level    NoticeLevel `json:"level"`
	Message  string      `json:"message"`
	Terminal bool        `json:"terminal,omitempty"`
}

// Event is one output of a session. Only the fields relevant to Type are set.
type Event struct {
	Type EventType
	At   time.Time

	Phase     model.SessionPhase
	Remaining int
	Snapshot  *model.SessionSnapshot

	Violation *model.Violation
	Threshold int
	Notice    *Notice

	// Index is the display index; Original and QuestionID locate the question in the
	// fetched test. Answer is nil when the answer was cleared.
	Index      int
	Original   int
	QuestionID string
	Answer     *model.Answer
	Review     bool

	Order    []int
	Trigger  model.SubmitTrigger
	Answers  map[int]model.Answer
	Err      string
	Redirect string
}

// Sink receives every event a session emits, on the dispatcher goroutine.
// Implementations must not block.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Sinks fans an event out to several sinks in order.
type Sinks []Sink

func (s Sinks) Emit(e Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(e)
		}
	}
}

const (
	msgTimeUp          = "Waktu ujian telah habis. Jawaban Anda dikumpulkan secara otomatis."
	msgThresholdBreach = "Batas pelanggaran tercapai. Jawaban Anda dikumpulkan secara otomatis."
	msgSubmitted       = "Jawaban berhasil dikumpulkan."
	msgSubmitFailed    = "Gagal mengumpulkan jawaban. Segera hubungi pengawas ujian."
)
