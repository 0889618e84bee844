package bottica

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownBot        = errors.New("bottica: unknown bot")
	ErrInvalidIP         = errors.New("bottica: invalid IP address")
	ErrInconsistentRules = errors.New("bottica: identity rules name unknown bots")
)

// UnknownBotError is returned when a bot name, given or matched from an
// identity, has no registry entry. It matches ErrUnknownBot.
type UnknownBotError struct {
	Name     string
	Identity string // set when the name was matched from an identity
}

func (e *UnknownBotError) Error() string {
	switch {
	case e.Identity != "" && e.Name == "":
		return fmt.Sprintf("bottica: no bot matches identity %q", e.Identity)
	case e.Identity != "":
		return fmt.Sprintf("bottica: unknown bot %q (matched from identity %q)", e.Name, e.Identity)
	default:
		return fmt.Sprintf("bottica: unknown bot %q", e.Name)
	}
}

func (e *UnknownBotError) Is(target error) bool {
	return target == ErrUnknownBot
}
