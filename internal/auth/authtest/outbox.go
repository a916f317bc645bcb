// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package authtest

import (
	"context"
	"regexp"
	"sync"

	"github.com/storefront/storefront/internal/auth"
)

var codePattern = regexp.MustCompile(`<b>(\d{6})</b>`)

// Outbox is an auth.Notifier that records messages instead of sending them.
// When Err is set, Notify records nothing and returns it.
type Outbox struct {
	mu       sync.Mutex
	messages []auth.Message
	Err      error
}

// Notify records msg.
func (o *Outbox) Notify(_ context.Context, msg auth.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.messages = append(o.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (o *Outbox) Messages() []auth.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]auth.Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// LastCode extracts the passcode from the most recent message to email.
// Returns "" when no such message exists.
func (o *Outbox) LastCode(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].To != email {
			continue
		}
		if m := codePattern.FindStringSubmatch(o.messages[i].HTML); m != nil {
			return m[1]
		}
	}
	return ""
}

var _ auth.Notifier = (*Outbox)(nil)
