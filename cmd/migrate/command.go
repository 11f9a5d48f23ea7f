package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
)

type action string

const (
	actionUp      action = "up"
	actionDown    action = "down"
	actionSteps   action = "steps"
	actionVersion action = "version"
	actionForce   action = "force"
)

// errConfirmDown guards the full rollback, which drops every archived room.
var errConfirmDown = errors.New("down without a step count drops the room archive; pass -yes to confirm")

// command is one parsed migrate invocation.
type command struct {
	action action
	n      int
}

// migrator is the subset of *migrate.Migrate the commands use.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
}

// parseCommand reads the positional arguments.
//
// Postcondition: Returns a command whose action is one of the action constants,
// or an error describing the expected usage.
func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{action: actionUp}, nil
	}
	switch a := action(args[0]); a {
	case actionVersion:
		if len(args) != 1 {
			return command{}, errors.New("version takes no arguments")
		}
		return command{action: a}, nil
	case actionUp, actionDown:
		if len(args) == 1 {
			return command{action: a}, nil
		}
		if len(args) > 2 {
			return command{}, fmt.Errorf("%s takes at most one step count", a)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return command{}, fmt.Errorf("%s step count must be a positive integer, got %q", a, args[1])
		}
		if a == actionDown {
			n = -n
		}
		return command{action: actionSteps, n: n}, nil
	case actionForce:
		if len(args) != 2 {
			return command{}, errors.New("force requires a version")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < -1 {
			return command{}, fmt.Errorf("force version must be an integer >= -1, got %q", args[1])
		}
		return command{action: actionForce, n: v}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q (want up, down, version or force)", args[0])
	}
}

// destructive reports whether the command removes the whole archive schema.
func (c command) destructive() bool {
	return c.action == actionDown
}

// apply runs the command. ErrNoChange is not an error.
//
// Postcondition: Returns whether the schema changed.
func (c command) apply(m migrator) (bool, error) {
	var err error
	switch c.action {
	case actionUp:
		err = m.Up()
	case actionDown:
		err = m.Down()
	case actionSteps:
		err = m.Steps(c.n)
	case actionForce:
		err = m.Force(c.n)
	case actionVersion:
		return false, nil
	default:
		return false, fmt.Errorf("unsupported action %q", c.action)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", c.action, err)
	}
	return true, nil
}
