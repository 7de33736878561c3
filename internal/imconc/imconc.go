// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package imconc wraps sourcegraph/conc for fan-out over independent work
// items, collecting every error instead of stopping at the first.
package imconc

import (
	"errors"
	"sync"

	"github.com/sourcegraph/conc"
)

type ConcGroup struct {
	wg   *conc.WaitGroup
	mu   sync.Mutex
	errs []error
}

func NewConcGroup() *ConcGroup {
	return &ConcGroup{
		wg: &conc.WaitGroup{},
	}
}

func (c *ConcGroup) Go(fn func() error) {
	c.wg.Go(func() {
		if err := fn(); err != nil {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		}
	})
}

// Wait blocks until every submitted function returned and joins their
// errors.
func (c *ConcGroup) Wait() error {
	c.wg.Wait()
	return errors.Join(c.errs...)
}
