package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLockTimeout is wrapped by Locker implementations that give up waiting
// for a held lock.
var ErrLockTimeout = errors.New("lock wait timeout")

// RoleGrantsLockKey builds the lock key serializing grant replacement for a role.
func RoleGrantsLockKey(roleID int64) string {
	return fmt.Sprintf("rbac:role:%d:grants:lock", roleID)
}

// PageGrantsLockKey builds the lock key serializing page grant replacement for a subject.
func PageGrantsLockKey(subjectType string, subjectID int64) string {
	return fmt.Sprintf("rbac:pages:%s:%d:lock", subjectType, subjectID)
}

// Locker serializes critical sections by key. The returned release func must be called once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LockFailed classifies an error returned by Locker.Lock for the entity the
// lock guards. Context errors pass through, a wait timeout is a Conflict and
// anything else means the lock backend is unavailable.
func LockFailed(entity string, id any, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrLockTimeout):
		return Conflict(entity, id, "another update is in progress, retry later")
	case errors.Is(err, ErrStoreUnavailable):
		return err
	}
	return StoreUnavailable(fmt.Sprintf("lock %s %v", entity, id), err)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker constructs an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*lockSlot)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.drop(key, slot)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}
