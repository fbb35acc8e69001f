// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ppc64

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	cb "github.com/gorse-io/callgen/callbuilder"
	"github.com/gorse-io/callgen/gil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReacquireLosesReservation(t *testing.T) {
	lock := gil.New()
	lock.Release(0)

	asm := NewAssembler(ELFv2)
	ELFv2.ReacquireLock(asm, lock, false, cb.Int)
	prog := asm.Instrs()
	require.Equal(t, LDARX, prog[1].Op)

	a := NewMachine(ELFv2, NewMemory(ELFv2.ByteOrder(), lock))
	b := NewMachine(ELFv2, NewMemory(ELFv2.ByteOrder(), lock))
	for _, m := range []*Machine{a, b} {
		m.GPR[rFastGILPtr.Num] = lock.FastGILAddr()
		m.Load(prog)
	}
	slow := 0
	require.NoError(t, a.BindVoid(lock.ReacquireAddr(), func(*Machine) error {
		slow++
		return nil
	}))

	// a reserves the free lock word, then b takes the lock.
	require.NoError(t, a.Step())
	require.NoError(t, a.Step())
	assert.Equal(t, uint64(0), a.GPR[10])
	require.NoError(t, b.Run())
	assert.Empty(t, b.Calls)
	assert.Equal(t, int64(1), lock.Flag().Load())

	// a's store-conditional fails, it retries, sees the lock held and goes
	// to the slow routine.
	require.NoError(t, a.Run())
	assert.Equal(t, 1, slow)
	assert.Equal(t, []uint64{lock.ReacquireAddr()}, a.Calls)
	assert.Equal(t, int64(1), lock.Flag().Load())
}

func TestReacquireMismatchReleasesLock(t *testing.T) {
	lock := gil.New(gil.WithShadowStack(foreignTop))
	lock.Release(foreignTop)

	asm := NewAssembler(ELFv2)
	ELFv2.ReacquireLock(asm, lock, false, cb.Int)
	m := NewMachine(ELFv2, NewMemory(ELFv2.ByteOrder(), lock))
	top, _ := lock.RootStackTopAddr()
	m.GPR[rFastGILPtr.Num] = lock.FastGILAddr()
	m.GPR[rShadowPtr.Num] = top
	m.GPR[rShadowOld.Num] = shadowTop
	var flagInSlowPath int64 = -1
	require.NoError(t, m.BindVoid(lock.ReacquireAddr(), func(*Machine) error {
		flagInSlowPath = lock.Flag().Load()
		lock.Reacquire(shadowTop)
		return nil
	}))
	require.NoError(t, m.Exec(asm.Instrs()))
	assert.Equal(t, int64(0), flagInSlowPath)
	assert.True(t, lock.Held())
	assert.Equal(t, uint64(shadowTop), lock.RootStackTop().Load())
}

func TestLockMutualExclusion(t *testing.T) {
	const (
		threads    = 4
		iterations = 200
	)
	lock := gil.New(gil.WithShadowStack(0))
	lock.Release(0)

	var (
		wg         sync.WaitGroup
		inside     atomic.Int32
		violations atomic.Int32
		counter    int
	)
	for i := 0; i < threads; i++ {
		top := uint64(shadowTop + 0x100*i)
		m := NewMachine(ELFv2, NewMemory(ELFv2.ByteOrder(), lock))
		m.Poison = true
		require.NoError(t, m.SetupThread(DefaultThread()))
		require.NoError(t, m.BindReacquire(lock, top))
		require.NoError(t, m.BindVoid(funcAddr, func(*Machine) error {
			runtime.Gosched()
			return nil
		}))
		asm := NewAssembler(ELFv2)
		_, err := cb.NewBuilder(ELFv2, cb.WithSyncState(lock)).Emit(asm, &cb.CallDescriptor{
			Target:       cb.Imm{Value: funcAddr},
			ReleasesLock: true,
			Errno:        cb.ErrnoSaveAfter,
		})
		require.NoError(t, err)
		prog := asm.Instrs()

		wg.Add(1)
		go func() {
			defer wg.Done()
			lock.Reacquire(top)
			for k := 0; k < iterations; k++ {
				if inside.Add(1) != 1 {
					violations.Add(1)
				}
				counter++
				inside.Add(-1)
				if err := m.Exec(prog); err != nil {
					t.Error(err)
					break
				}
			}
			lock.Release(top)
		}()
	}
	wg.Wait()

	assert.Zero(t, violations.Load())
	assert.Equal(t, threads*iterations, counter)
	assert.False(t, lock.Held())
}
