package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_Register(t *testing.T) {
	sr := NewSessionRegistry()

	c1 := &Client{userId: "user1"}
	c2 := &Client{userId: "user1"}

	becameOnline := sr.Register("user1", c1)
	assert.True(t, becameOnline, "expected first connection to bring user online")
	assert.True(t, sr.IsOnline("user1"), "expected user to be online")

	becameOnline = sr.Register("user1", c2)
	assert.False(t, becameOnline, "expected second connection to not change online state")
	assert.Len(t, sr.ConnectionsFor("user1"), 2, "expected 2 connections for user")

	// registering the same connection again is a no-op
	becameOnline = sr.Register("user1", c2)
	assert.False(t, becameOnline, "expected duplicate registration to not change online state")
	assert.Len(t, sr.ConnectionsFor("user1"), 2, "expected connection count unchanged after duplicate registration")
}

func TestSessionRegistry_Unregister(t *testing.T) {
	t.Run("user stays online while other connections remain", func(t *testing.T) {
		sr := NewSessionRegistry()
		c1 := &Client{userId: "user1"}
		c2 := &Client{userId: "user1"}
		sr.Register("user1", c1)
		sr.Register("user1", c2)

		userId, becameOffline := sr.Unregister(c1)
		assert.Equal(t, "user1", userId, "expected unregister to report owning user")
		assert.False(t, becameOffline, "expected user to stay online with a second connection")
		assert.True(t, sr.IsOnline("user1"), "expected user to be online")

		userId, becameOffline = sr.Unregister(c2)
		assert.Equal(t, "user1", userId, "expected unregister to report owning user")
		assert.True(t, becameOffline, "expected last connection to take user offline")
		assert.False(t, sr.IsOnline("user1"), "expected user to be offline")
		assert.Equal(t, 0, sr.NumOnline(), "expected empty entry to be deleted")
	})

	t.Run("unknown connection", func(t *testing.T) {
		sr := NewSessionRegistry()
		userId, becameOffline := sr.Unregister(&Client{userId: "ghost"})
		assert.Empty(t, userId, "expected no user for unknown connection")
		assert.False(t, becameOffline, "expected no offline transition for unknown connection")
	})
}

func TestSessionRegistry_Snapshot(t *testing.T) {
	sr := NewSessionRegistry()
	sr.Register("carol", &Client{userId: "carol"})
	sr.Register("alice", &Client{userId: "alice"})
	sr.Register("bob", &Client{userId: "bob"})

	assert.Equal(t, []string{"alice", "bob", "carol"}, sr.Snapshot(), "expected sorted snapshot of online users")
	assert.Equal(t, 3, sr.NumOnline(), "expected 3 online users")
}

func TestSessionRegistry_ConcurrentChurn(t *testing.T) {
	sr := NewSessionRegistry()

	numUsers := 8
	connsPerUser := 16

	var wg sync.WaitGroup
	for i := range numUsers {
		userId := fmt.Sprintf("user%d", i)
		for range connsPerUser {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c := &Client{userId: userId}
				sr.Register(userId, c)
				sr.Unregister(c)
			}()
		}
	}
	wg.Wait()

	// every register was paired with an unregister
	assert.Equal(t, 0, sr.NumOnline(), "expected no users online after churn")
	for i := range numUsers {
		assert.False(t, sr.IsOnline(fmt.Sprintf("user%d", i)), "expected user%d to be offline", i)
	}
}
