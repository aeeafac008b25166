/*
Copyright 2025 Jordi Gil.

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

// Package dependency wraps sony/gobreaker behind a failure-rate API so
// call sites that reach outside this process trip on a failure
// percentage rather than a raw consecutive-failure count. The captcha
// HTTP solver is the only call site; Portal navigation and Slack posts
// do not go through a breaker.
package dependency

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitState mirrors gobreaker.State under names that don't leak
// the underlying library into call sites.
type CircuitState string

const (
	CircuitStateClosed   CircuitState = "closed"
	CircuitStateOpen     CircuitState = "open"
	CircuitStateHalfOpen CircuitState = "half-open"
)

// minRequestsForTrip keeps a single unlucky call from opening the
// circuit; the failure rate only means something once there's a
// sample to compute it from.
const minRequestsForTrip = 5

// CircuitBreaker protects a single named dependency (a Portal host,
// the Solver API, Slack) from being hammered once it starts failing.
type CircuitBreaker struct {
	name             string
	failureThreshold float64
	resetTimeout     time.Duration
	cb               *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker that opens once at least 5 calls
// have been made and the failure rate reaches failureThreshold, and
// attempts recovery resetTimeout after opening.
func NewCircuitBreaker(name string, failureThreshold float64, resetTimeout time.Duration) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequestsForTrip {
				return false
			}
			rate := float64(counts.TotalFailures) / float64(counts.Requests)
			return rate >= failureThreshold
		},
	}

	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		cb:               gobreaker.NewCircuitBreaker(settings),
	}
}

// Call runs fn through the breaker. It returns the breaker's own
// rejection error when the circuit is open, fn's error otherwise.
func (c *CircuitBreaker) Call(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("circuit breaker is open: %s", c.name)
	}
	return err
}

func (c *CircuitBreaker) GetName() string { return c.name }

func (c *CircuitBreaker) GetFailureThreshold() float64 { return c.failureThreshold }

func (c *CircuitBreaker) GetResetTimeout() time.Duration { return c.resetTimeout }

// GetState returns the breaker's current state.
func (c *CircuitBreaker) GetState() CircuitState {
	switch c.cb.State() {
	case gobreaker.StateOpen:
		return CircuitStateOpen
	case gobreaker.StateHalfOpen:
		return CircuitStateHalfOpen
	default:
		return CircuitStateClosed
	}
}

// GetFailureRate returns the failure ratio over the current
// generation's requests (0 once a state transition resets the
// window).
func (c *CircuitBreaker) GetFailureRate() float64 {
	counts := c.cb.Counts()
	if counts.Requests == 0 {
		return 0.0
	}
	return float64(counts.TotalFailures) / float64(counts.Requests)
}

// GetFailures returns the failure count in the current generation.
func (c *CircuitBreaker) GetFailures() int64 {
	return int64(c.cb.Counts().TotalFailures)
}
