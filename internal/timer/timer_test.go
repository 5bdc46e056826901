// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoopDispatchesDueCallbacksByModulo(t *testing.T) {
	var everyTick, everyTwo int64
	l := New(5*time.Millisecond, 2, nil)
	l.Register(Callback{Name: "every-tick", Every: 1, Run: func(context.Context, int64) error {
		atomic.AddInt64(&everyTick, 1)
		return nil
	}})
	l.Register(Callback{Name: "every-two", Every: 2, Run: func(context.Context, int64) error {
		atomic.AddInt64(&everyTwo, 1)
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Millisecond)
	defer cancel()
	_ = l.Run(ctx)

	assert.Greater(t, atomic.LoadInt64(&everyTick), atomic.LoadInt64(&everyTwo))
}

func TestLoopReportsCallbackErrors(t *testing.T) {
	var gotErr error
	l := New(5*time.Millisecond, 1, func(_ string, err error) { gotErr = err })
	l.Register(Callback{Name: "fails", Every: 1, Run: func(context.Context, int64) error {
		return assert.AnError
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Millisecond)
	defer cancel()
	_ = l.Run(ctx)

	assert.Error(t, gotErr)
}
