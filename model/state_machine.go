/*
Copyright 2024 Coinvoice Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import "fmt"

// transitions is the authoritative edge set for invoice status changes.
// Terminal statuses have no outgoing edges.
var transitions = map[string][]string{
	StatusCreated:   {StatusPending, StatusFailed},
	StatusPending:   {StatusDetected, StatusExpired, StatusFailed},
	StatusDetected:  {StatusConfirmed, StatusFailed, StatusExpired},
	StatusConfirmed: {StatusPaid, StatusFailed},
	StatusPaid:      {},
	StatusFailed:    {},
	StatusExpired:   {},
}

// TransitionError reports an attempted status change that the transition
// table does not permit.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid invoice state transition: %s -> %s", e.From, e.To)
}

// ValidateTransition checks that moving from current to next follows an edge
// in the transition table. It never mutates anything; callers commit the
// change only after this succeeds.
func ValidateTransition(current, next string) error {
	if !CanTransition(current, next) {
		return &TransitionError{From: current, To: next}
	}
	return nil
}

// CanTransition is the non-failing query form of ValidateTransition, used by
// callers that want to skip work instead of handling an error.
func CanTransition(current, next string) bool {
	allowed, ok := transitions[current]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == next {
			return true
		}
	}
	return false
}
