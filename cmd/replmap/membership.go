package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmsadair/replmap"
)

const resyncInterval = 5 * time.Second

// memberSetter installs views on a group member.
type memberSetter interface {
	SetMembers(ctx context.Context, members []replmap.Address) error
}

// membership hands the latest known members to the group. The members are
// handed over again on every tick, so members that did not answer when
// they were first seen are looked up again once they come up.
type membership struct {
	group  memberSetter
	logger *zap.SugaredLogger

	// Held while the group is updated, so an older list never replaces a newer one.
	mu      sync.Mutex
	members []replmap.Address
}

func newMembership(group memberSetter, logger *zap.SugaredLogger, members []string) *membership {
	return &membership{group: group, logger: logger, members: toAddresses(members)}
}

// update replaces the known members and hands them to the group.
func (m *membership) update(ctx context.Context, members []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = toAddresses(members)
	return m.sync(ctx)
}

// resync hands the known members to the group again.
func (m *membership) resync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sync(ctx)
}

func (m *membership) sync(ctx context.Context) error {
	if err := m.group.SetMembers(ctx, m.members); err != nil {
		m.logger.Warnf("could not update members: %s", err.Error())
		return err
	}
	return nil
}

// run resyncs the members every interval until ctx is cancelled.
func (m *membership) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.resync(ctx)
		}
	}
}

func toAddresses(members []string) []replmap.Address {
	addresses := make([]replmap.Address, len(members))
	for i, member := range members {
		addresses[i] = replmap.Address(member)
	}
	return addresses
}
