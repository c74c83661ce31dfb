package player

// ErrorKind distinguishes the user-visible failures. None of them retry.
type ErrorKind string

const (
	KindAccessDenied  ErrorKind = "access_denied"
	KindTokenFailure  ErrorKind = "token_failure"
	KindStreamFailure ErrorKind = "stream_failure"
)

var messages = map[ErrorKind]string{
	KindAccessDenied:  "אין לך גישה לסרטון זה. יש להירשם לקורס כדי לצפות בו.",
	KindTokenFailure:  "לא ניתן להתחיל את הצפייה כרגע. נסו לרענן את הדף.",
	KindStreamFailure: "אירעה שגיאה בטעינת הסרטון. בדקו את החיבור לאינטרנט ונסו שוב.",
}

const genericMessage = "אירעה שגיאה בלתי צפויה."

// Message returns the localized text shown for kind.
func Message(kind ErrorKind) string {
	if m, ok := messages[kind]; ok {
		return m
	}
	return genericMessage
}

// PlaybackError carries the kind shown to the user and the underlying cause.
type PlaybackError struct {
	Kind ErrorKind
	Err  error
}

func (e *PlaybackError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Message is the localized text for the UI.
func (e *PlaybackError) Message() string { return Message(e.Kind) }
