package kernel

import "context"

// Socket is one bound message socket. Recv blocks until a message arrives
// or the socket is closed.
type Socket interface {
	Recv() ([][]byte, error)
	Send(frames [][]byte) error
	Close() error
}

// Interpreter runs code. It returns the printable form of the resulting
// value, if there is one.
type Interpreter interface {
	Interpret(code string) (result string, hasValue bool, err error)
}

// Failure is an interpreter error that knows how to present itself.
type Failure interface {
	error
	ErrorName() string
	ErrorValue() string
	Traceback() []string
}

// OutputCapture is implemented by interpreters that buffer what cells print.
// Flush returns and clears the buffers.
type OutputCapture interface {
	Flush() (stdout, stderr string)
}

// Completer answers completion queries. ok is false until an index exists.
type Completer interface {
	Complete(text string) (matches []string, query string, ok bool)
}

// HistoryEntry is one recorded cell as a history_reply lists it.
type HistoryEntry struct {
	Session int64
	Line    int
	Source  string
}

// HistoryRecorder stores executed cells and serves them back.
type HistoryRecorder interface {
	Record(ctx context.Context, line int, source string, ok bool) error
	Tail(ctx context.Context, n int) ([]HistoryEntry, error)
	Range(ctx context.Context, session int64, start, stop int) ([]HistoryEntry, error)
}

// Stopper is a loop that can be asked to stop.
type Stopper interface {
	Stop()
}

// Info is the identity reported in kernel_info_reply.
type Info struct {
	Implementation        string
	ImplementationVersion string
	Language              string
	LanguageVersion       string
	MimeType              string
	FileExtension         string
	Banner                string
}

// ProtocolVersion is the wire protocol version the kernel speaks.
const ProtocolVersion = "5.3"

// DefaultInfo describes a Starlark kernel of unknown build.
func DefaultInfo() Info {
	return Info{
		Implementation:        "starkernel",
		ImplementationVersion: "dev",
		Language:              "starlark",
		LanguageVersion:       "1.0",
		MimeType:              "text/x-starlark",
		FileExtension:         ".star",
		Banner:                "starkernel: Starlark for Jupyter",
	}
}
