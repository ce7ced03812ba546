// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"path"
	"slices"
	"sync"
)

// Navigator keeps a connection's page history and calls onEnter for every
// page it moves to. It implements signon.Navigator.
type Navigator struct {
	mu      sync.Mutex
	history []string
	onEnter func(page string)
}

// NewNavigator creates a Navigator positioned at start. onEnter may be nil.
func NewNavigator(start string, onEnter func(page string)) *Navigator {
	return &Navigator{
		history: []string{path.Clean(start)},
		onEnter: onEnter,
	}
}

// Navigate moves to page. With replace set the current history entry is
// overwritten, otherwise page is pushed.
func (n *Navigator) Navigate(page string, replace bool) {
	page = path.Clean(page)

	n.mu.Lock()
	if replace && len(n.history) > 0 {
		n.history[len(n.history)-1] = page
	} else {
		n.history = append(n.history, page)
	}
	onEnter := n.onEnter
	n.mu.Unlock()

	if onEnter != nil {
		onEnter(page)
	}
}

// Back pops the current page and returns the one below it. It reports false
// when there is nothing to go back to.
func (n *Navigator) Back() (string, bool) {
	n.mu.Lock()
	if len(n.history) < 2 {
		n.mu.Unlock()
		return "", false
	}
	n.history = n.history[:len(n.history)-1]
	page := n.history[len(n.history)-1]
	onEnter := n.onEnter
	n.mu.Unlock()

	if onEnter != nil {
		onEnter(page)
	}
	return page, true
}

// Reset discards the history, moves to start and calls onEnter for it.
func (n *Navigator) Reset(start string) {
	start = path.Clean(start)

	n.mu.Lock()
	n.history = []string{start}
	onEnter := n.onEnter
	n.mu.Unlock()

	if onEnter != nil {
		onEnter(start)
	}
}

// Current returns the page on top of the history.
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.history) == 0 {
		return ""
	}
	return n.history[len(n.history)-1]
}

// History returns a copy of the history, oldest first.
func (n *Navigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.history)
}
