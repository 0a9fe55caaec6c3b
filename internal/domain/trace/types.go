package trace

// Event identifies what the interpreter was doing when a frame was recorded.
type Event string

const (
	EventLine      Event = "line"
	EventCall      Event = "call"
	EventReturn    Event = "return"
	EventException Event = "exception"
)

// Valid reports whether e is one of the four recorded events.
func (e Event) Valid() bool {
	switch e {
	case EventLine, EventCall, EventReturn, EventException:
		return true
	}
	return false
}

// File tags used in frames.
const (
	UserFile     = "<user>"
	InternalFile = "<internal>"
	ModuleFunc   = "<module>"
	TracerFunc   = "<tracer>"
)

// Var is a single rendered binding. Value is a display string, never a live value.
type Var struct {
	Name  string `json:"name" msgpack:"name" yaml:"name" toml:"name"`
	Value string `json:"value" msgpack:"value" yaml:"value" toml:"value"`
	Type  string `json:"type,omitempty" msgpack:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
}

// Highlight tells a presentation surface which lines to mark.
type Highlight struct {
	Current int  `json:"current" msgpack:"current" yaml:"current" toml:"current"`
	Next    *int `json:"next,omitempty" msgpack:"next,omitempty" yaml:"next,omitempty" toml:"next,omitempty"`
}

// Frame is one recorded execution event.
type Frame struct {
	Step      int       `json:"step" msgpack:"step" yaml:"step" toml:"step"`
	Event     Event     `json:"event" msgpack:"event" yaml:"event" toml:"event"`
	File      string    `json:"file" msgpack:"file" yaml:"file" toml:"file"`
	FuncName  string    `json:"funcName" msgpack:"funcName" yaml:"funcName" toml:"funcName"`
	Line      int       `json:"line" msgpack:"line" yaml:"line" toml:"line"`
	NextLine  *int      `json:"nextLine,omitempty" msgpack:"nextLine,omitempty" yaml:"nextLine,omitempty" toml:"nextLine,omitempty"`
	Locals    []Var     `json:"locals" msgpack:"locals" yaml:"locals" toml:"locals"`
	Globals   []Var     `json:"globals" msgpack:"globals" yaml:"globals" toml:"globals"`
	Stdout    string    `json:"stdout" msgpack:"stdout" yaml:"stdout" toml:"stdout"`
	Highlight Highlight `json:"highlight" msgpack:"highlight" yaml:"highlight" toml:"highlight"`

	// Error is set only on frames describing a failure inside the tracer itself.
	Error string `json:"error,omitempty" msgpack:"error,omitempty" yaml:"error,omitempty" toml:"error,omitempty"`
}

// Request asks a sandbox worker to trace one program.
type Request struct {
	ID   string `json:"id" msgpack:"id"`
	Code string `json:"code" msgpack:"code"`
}

// Response is the single reply a worker posts for a Request.
type Response struct {
	ID    string  `json:"id" msgpack:"id"`
	OK    bool    `json:"ok" msgpack:"ok"`
	Steps []Frame `json:"steps,omitempty" msgpack:"steps,omitempty"`
	Error string  `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Result returns the payload of the response without its envelope.
func (r Response) Result() Result {
	return Result{OK: r.OK, Steps: r.Steps, Error: r.Error}
}

// Result is the outcome of a trace run.
type Result struct {
	OK    bool    `json:"ok" msgpack:"ok" yaml:"ok" toml:"ok"`
	Steps []Frame `json:"steps,omitempty" msgpack:"steps,omitempty" yaml:"steps,omitempty" toml:"steps,omitempty"`
	Error string  `json:"error,omitempty" msgpack:"error,omitempty" yaml:"error,omitempty" toml:"error,omitempty"`
}

// Success wraps a recorded trace.
func Success(steps []Frame) Result {
	if steps == nil {
		steps = []Frame{}
	}
	return Result{OK: true, Steps: steps}
}

// Failure wraps a sandbox failure message.
func Failure(msg string) Result {
	if msg == "" {
		msg = "unknown sandbox error"
	}
	return Result{OK: false, Error: msg}
}

// Last returns the final frame, if any.
func (r Result) Last() (Frame, bool) {
	if len(r.Steps) == 0 {
		return Frame{}, false
	}
	return r.Steps[len(r.Steps)-1], true
}
