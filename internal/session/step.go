package session

import (
	"encoding/json"
	"fmt"
)

// Step is the lifecycle state of a booth session. Steps only ever advance
// along None -> Start -> Counter -> Posting -> PendingValidation -> End;
// End is terminal.
type Step int

const (
	None Step = iota
	Start
	Counter
	Posting
	PendingValidation
	End
)

var stepNames = map[Step]string{
	None:              "none",
	Start:             "start",
	Counter:           "counter",
	Posting:           "posting",
	PendingValidation: "pending_validation",
	End:               "end",
}

var stepFromName = map[string]Step{
	"none":               None,
	"start":              Start,
	"counter":            Counter,
	"posting":            Posting,
	"pending_validation": PendingValidation,
	"end":                End,
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, ok := stepFromName[name]
	if !ok {
		return fmt.Errorf("unknown session step %q", name)
	}
	*s = v
	return nil
}

func (s Step) IsTerminal() bool {
	return s == End
}
