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

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []string{
	StatusCreated,
	StatusPending,
	StatusDetected,
	StatusConfirmed,
	StatusPaid,
	StatusFailed,
	StatusExpired,
}

// The full edge set. Everything outside this grid must be rejected.
var allowedEdges = map[string]map[string]bool{
	StatusCreated:   {StatusPending: true, StatusFailed: true},
	StatusPending:   {StatusDetected: true, StatusExpired: true, StatusFailed: true},
	StatusDetected:  {StatusConfirmed: true, StatusFailed: true, StatusExpired: true},
	StatusConfirmed: {StatusPaid: true, StatusFailed: true},
	StatusPaid:      {},
	StatusFailed:    {},
	StatusExpired:   {},
}

func TestValidateTransition_ExhaustiveGrid(t *testing.T) {
	for _, current := range allStatuses {
		for _, next := range allStatuses {
			err := ValidateTransition(current, next)
			if allowedEdges[current][next] {
				assert.NoError(t, err, "expected %s -> %s to be allowed", current, next)
			} else {
				assert.Error(t, err, "expected %s -> %s to be rejected", current, next)
			}
		}
	}
}

func TestValidateTransition_ErrorCarriesEndpoints(t *testing.T) {
	err := ValidateTransition(StatusPaid, StatusPending)
	assert.Error(t, err)

	var transitionErr *TransitionError
	assert.True(t, errors.As(err, &transitionErr))
	assert.Equal(t, StatusPaid, transitionErr.From)
	assert.Equal(t, StatusPending, transitionErr.To)
}

func TestValidateTransition_UnknownStatusRejected(t *testing.T) {
	assert.Error(t, ValidateTransition("SETTLING", StatusPaid))
	assert.False(t, CanTransition("SETTLING", StatusPaid))
}

func TestCanTransition_MatchesValidate(t *testing.T) {
	for _, current := range allStatuses {
		for _, next := range allStatuses {
			assert.Equal(t, ValidateTransition(current, next) == nil, CanTransition(current, next))
		}
	}
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	for _, terminal := range []string{StatusPaid, StatusFailed, StatusExpired} {
		for _, next := range allStatuses {
			assert.False(t, CanTransition(terminal, next), "%s must be final", terminal)
		}
	}
}
