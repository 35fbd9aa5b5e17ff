package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// ActionName is a lifecycle action the executor understands.
type ActionName int

const (
	ActionUnknown ActionName = iota
	ActionStart
	ActionStop
	ActionRestart
	ActionUpdate
	ActionRollback
)

var actionToString = map[ActionName]string{
	ActionStart:    "start",
	ActionStop:     "stop",
	ActionRestart:  "restart",
	ActionUpdate:   "update",
	ActionRollback: "rollback",
}

var stringToAction map[string]ActionName

func init() {
	stringToAction = util.InvertMap(actionToString)
}

// LifecycleActions are the fixed actions offered ahead of any rollback, in display order.
var LifecycleActions = []ActionName{ActionStart, ActionStop, ActionRestart, ActionUpdate}

func (a ActionName) String() string {
	if str, ok := actionToString[a]; ok {
		return str
	}
	return fmt.Sprintf("unknown_action(%d)", int(a))
}

// ParseAction maps a name to its action. Matching is exact and case-sensitive;
// anything else is ActionUnknown.
func ParseAction(name string) ActionName {
	if a, ok := stringToAction[name]; ok {
		return a
	}
	return ActionUnknown
}

// Verb returns the first executor argument for the action.
// Rollback is carried out by the executor's "restore" verb.
func (a ActionName) Verb() string {
	switch a {
	case ActionStart, ActionStop, ActionRestart, ActionUpdate:
		return a.String()
	case ActionRollback:
		return "restore"
	case ActionUnknown:
		return ""
	default:
		return ""
	}
}

// MarshalJSON implements the json.Marshaler interface for ActionName.
func (a ActionName) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for ActionName.
func (a *ActionName) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("ActionName should be a string, got %s", data)
	}
	parsed := ParseAction(str)
	if parsed == ActionUnknown {
		return fmt.Errorf("invalid ActionName %q", str)
	}
	*a = parsed
	return nil
}
