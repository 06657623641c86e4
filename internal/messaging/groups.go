package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/socialchat/internal/logger"
)

// GroupStore manages conversation group membership on top of the group
// persistence collaborator. Membership changes go through single atomic
// store operations (add one connection, remove one connection) so
// concurrent joins and leaves on the same group cannot overwrite each other.
type GroupStore struct {
	persist GroupPersistence
}

// NewGroupStore wraps p.
func NewGroupStore(p GroupPersistence) *GroupStore {
	return &GroupStore{persist: p}
}

// GetOrCreate returns the persisted group called name, creating an empty one
// when it does not exist yet. A concurrent creator winning the race is
// treated as success and the group is read again.
func (s *GroupStore) GetOrCreate(ctx context.Context, name string) (Group, error) {
	g, err := s.persist.GetGroup(ctx, name)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, ErrGroupNotFound) {
		return Group{}, fmt.Errorf("%w: get group %s: %v", ErrPersistence, name, err)
	}

	g, err = s.persist.CreateGroup(ctx, name)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, ErrGroupExists) {
		return Group{}, fmt.Errorf("%w: create group %s: %v", ErrPersistence, name, err)
	}

	g, err = s.persist.GetGroup(ctx, name)
	if err != nil {
		return Group{}, fmt.Errorf("%w: get group %s: %v", ErrPersistence, name, err)
	}
	return g, nil
}

// Get returns the group called name. A group that was never created is
// returned empty, which means nobody is viewing the conversation.
func (s *GroupStore) Get(ctx context.Context, name string) (Group, error) {
	g, err := s.persist.GetGroup(ctx, name)
	if errors.Is(err, ErrGroupNotFound) {
		return Group{Name: name}, nil
	}
	if err != nil {
		return Group{}, fmt.Errorf("%w: get group %s: %v", ErrPersistence, name, err)
	}
	return g, nil
}

// Join adds c to the group called name, creating the group when needed, and
// returns the membership after the join. On error c is in no group.
func (s *GroupStore) Join(ctx context.Context, name string, c Connection) (Group, error) {
	if _, err := s.GetOrCreate(ctx, name); err != nil {
		return Group{}, err
	}
	if err := s.persist.AddConnection(ctx, name, c); err != nil {
		return Group{}, fmt.Errorf("%w: add connection %s to %s: %v", ErrPersistence, c.ID, name, err)
	}
	g, err := s.persist.GetGroup(ctx, name)
	if err != nil {
		if _, rerr := s.persist.RemoveConnection(context.WithoutCancel(ctx), c.ID); rerr != nil && !errors.Is(rerr, ErrConnectionNotFound) {
			logger.Error("join_rollback_failed", "connection_id", c.ID, "group", name, "error", rerr)
		}
		return Group{}, fmt.Errorf("%w: get group %s: %v", ErrPersistence, name, err)
	}
	return g, nil
}

// Leave removes connectionID from whichever group holds it and returns that
// group. ErrConnectionNotFound is returned unwrapped when the connection is
// not a member of any group.
func (s *GroupStore) Leave(ctx context.Context, connectionID string) (Group, error) {
	g, err := s.persist.RemoveConnection(ctx, connectionID)
	if errors.Is(err, ErrConnectionNotFound) {
		return Group{}, ErrConnectionNotFound
	}
	if err != nil {
		return Group{}, fmt.Errorf("%w: remove connection %s: %v", ErrPersistence, connectionID, err)
	}
	return g, nil
}

// MembersViewing returns the usernames with a connection in g.
func (s *GroupStore) MembersViewing(g Group) []string {
	return g.MembersViewing()
}
