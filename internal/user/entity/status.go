package entity

import (
	"strings"

	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

// State is the lifecycle state carried by a status token.
type State string

const (
	StateActive   State = "Active"
	StateInactive State = "Inactive"
	StateDisable  State = "Disable"
	StateDeleted  State = "Deleted"
)

// Reason explains why a user entered a state.
type Reason string

const (
	ReasonFirstTimeAccess  Reason = "FirstTimeAccess"
	ReasonComeBackAccess   Reason = "ComeBackAccess"
	ReasonLoginAgain       Reason = "LoginAgain"
	ReasonAfterRegister    Reason = "AfterRegister"
	ReasonLogout           Reason = "Logout"
	ReasonSpammer          Reason = "Spammer"
	ReasonLicenseExpired   Reason = "LicenseExpired"
	ReasonScammer          Reason = "Scammer"
	ReasonViolatePolicy    Reason = "ViolatePolicy"
	ReasonMultipleAccounts Reason = "MultipleAccounts"
)

// States lists every defined state.
var States = []State{StateActive, StateInactive, StateDisable, StateDeleted}

// Reasons lists every defined reason.
var Reasons = []Reason{
	ReasonFirstTimeAccess,
	ReasonComeBackAccess,
	ReasonLoginAgain,
	ReasonAfterRegister,
	ReasonLogout,
	ReasonSpammer,
	ReasonLicenseExpired,
	ReasonScammer,
	ReasonViolatePolicy,
	ReasonMultipleAccounts,
}

// Status is a state with the reason that caused it. There is no state
// without a reason.
type Status struct {
	State  State
	Reason Reason
}

// DefaultStatus is assigned when a user is created without a status.
var DefaultStatus = Status{State: StateInactive, Reason: ReasonFirstTimeAccess}

// String renders the status without an event id, e.g. "Disable:Spammer".
func (s Status) String() string {
	return string(s.State) + tokenSep + string(s.Reason)
}

// Event is one decoded entry of a status history.
type Event struct {
	Status
	ID string
}

const tokenSep = ":"

// newEventID is swapped in tests that need deterministic tokens.
var newEventID = utilities.NewKSUID

// ParseState matches s against the defined states.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", apperr.ErrUnknownStatus
}

// ParseReason matches s against the defined reasons.
func ParseReason(s string) (Reason, error) {
	for _, r := range Reasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", apperr.ErrUnknownReason
}

// ParseStatus parses optional request text. A nil input yields DefaultStatus.
func ParseStatus(input *string) (Status, error) {
	if input == nil {
		return DefaultStatus, nil
	}
	return Decode(*input)
}

// Encode renders s as "<State>:<Reason>:<EventId>" with a fresh
// time-ordered event id, so two encodings of one status never collide.
func Encode(s Status) string {
	return s.String() + tokenSep + newEventID()
}

// Decode parses a token back into its status. Both the stored form
// "<State>:<Reason>:<EventId>" and the bare "<State>:<Reason>" are accepted.
func Decode(token string) (Status, error) {
	ev, err := DecodeEvent(token)
	if err != nil {
		return Status{}, err
	}
	return ev.Status, nil
}

// DecodeEvent parses a token and keeps its event id.
func DecodeEvent(token string) (Event, error) {
	parts := strings.SplitN(token, tokenSep, 3)
	state, err := ParseState(parts[0])
	if err != nil {
		return Event{}, err
	}
	if len(parts) < 2 {
		return Event{}, apperr.ErrUnknownReason
	}
	reason, err := ParseReason(parts[1])
	if err != nil {
		return Event{}, err
	}
	ev := Event{Status: Status{State: state, Reason: reason}}
	if len(parts) == 3 {
		if parts[2] == "" {
			return Event{}, apperr.BadRequest("status event id is empty")
		}
		ev.ID = parts[2]
	}
	return ev, nil
}

// AppendStatus returns history with a freshly encoded token for s appended.
func AppendStatus(history []string, s Status) []string {
	return append(history, Encode(s))
}

// CurrentStatus decodes the last token of history. The current status is
// always the last element, never the first match of some predicate.
func CurrentStatus(history []string) (Status, error) {
	if len(history) == 0 {
		return Status{}, apperr.Internal(errEmptyHistory)
	}
	st, err := Decode(history[len(history)-1])
	if err != nil {
		return Status{}, apperr.Internal(err)
	}
	return st, nil
}
