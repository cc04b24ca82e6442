package domain

import (
	"errors"
	"fmt"
)

// ErrRuleTableDefect marks a failure caused by the rule table rather than the patient inputs.
// Any error wrapping it is a hard failure: the evaluation produced no result.
var ErrRuleTableDefect = errors.New("rule table defect")

var (
	// ErrLogDomain is returned when a met rule drives 1 + points/scale to zero or below.
	ErrLogDomain = fmt.Errorf("%w: logarithm argument not positive", ErrRuleTableDefect)

	// ErrTierNotFound is returned when no tier upper bound covers the final score.
	ErrTierNotFound = fmt.Errorf("%w: score outside declared risk tiers", ErrRuleTableDefect)

	// ErrPredicateFailed is returned when a compiled predicate errors or yields a non-bool.
	ErrPredicateFailed = fmt.Errorf("%w: predicate evaluation failed", ErrRuleTableDefect)
)

var (
	// ErrInvalidTable is returned when a rule table fails load-time validation.
	ErrInvalidTable = errors.New("invalid rule table")

	// ErrInvalidInput is returned when a supplied value cannot be read as the variable's type.
	ErrInvalidInput = errors.New("invalid input value")

	// ErrInputOutOfDomain is returned by input validation for range and option-set violations.
	ErrInputOutOfDomain = errors.New("input outside declared domain")

	// ErrUnknownInstrument is returned when no instrument is registered under an id.
	ErrUnknownInstrument = errors.New("unknown instrument")
)
