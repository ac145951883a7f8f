package wire

// Message types consumed by the kernel.
const (
	KernelInfoRequest = "kernel_info_request"
	ExecuteRequest    = "execute_request"
	CompleteRequest   = "complete_request"
	ShutdownRequest   = "shutdown_request"
	HistoryRequest    = "history_request"
)

// Message types produced by the kernel.
const (
	KernelInfoReply = "kernel_info_reply"
	Status          = "status"
	ExecuteInput    = "execute_input"
	Stream          = "stream"
	ExecuteResult   = "execute_result"
	ExecuteReply    = "execute_reply"
	CompleteReply   = "complete_reply"
	ShutdownReply   = "shutdown_reply"
	HistoryReply    = "history_reply"
)

// Execution states carried by status broadcasts.
const (
	StateBusy = "busy"
	StateIdle = "idle"
)

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Kind is the closed set of request types the kernel understands.
type Kind int

const (
	KindUnknown Kind = iota
	KindKernelInfo
	KindExecute
	KindComplete
	KindShutdown
	KindHistory
)

var kindNames = map[string]Kind{
	KernelInfoRequest: KindKernelInfo,
	ExecuteRequest:    KindExecute,
	CompleteRequest:   KindComplete,
	ShutdownRequest:   KindShutdown,
	HistoryRequest:    KindHistory,
}

// Classify maps a header msg_type to its Kind.
func Classify(msgType string) Kind {
	if k, ok := kindNames[msgType]; ok {
		return k
	}
	return KindUnknown
}

func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}
