package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tcases := []struct {
		in   string
		role Role
		ok   bool
	}{
		{in: "host", role: RoleHost, ok: true},
		{in: "moderator", role: RoleModerator, ok: true},
		{in: "participant", role: RoleParticipant, ok: true},
		{in: "admin", ok: false},
		{in: "", ok: false},
		{in: "Host", ok: false},
	}

	for _, tc := range tcases {
		t.Run(tc.in, func(t *testing.T) {
			role, ok := ParseRole(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.role, role)
		})
	}
}

func testRoom() *Room {
	now := time.Now()
	return &Room{
		RoomCode: "ABC123",
		HostId:   "h",
		Participants: []Participant{
			{UserId: "h", Username: "host", Role: RoleHost, JoinedAt: now},
			{UserId: "p1", Username: "p1", Role: RoleParticipant, JoinedAt: now.Add(time.Second)},
			{UserId: "m1", Username: "m1", Role: RoleModerator, JoinedAt: now.Add(3 * time.Second)},
			{UserId: "m2", Username: "m2", Role: RoleModerator, JoinedAt: now.Add(2 * time.Second)},
		},
		IsActive: true,
	}
}

func TestRoom_Participant(t *testing.T) {
	r := testRoom()

	p, ok := r.Participant("m1")
	assert.True(t, ok)
	assert.Equal(t, "m1", p.Username)

	p.Role = RoleParticipant
	assert.Equal(t, RoleParticipant, r.Participants[2].Role, "expected returned pointer to alias the room entry")

	_, ok = r.Participant("missing")
	assert.False(t, ok)
}

func TestRoom_RemoveParticipant(t *testing.T) {
	r := testRoom()

	p, ok := r.RemoveParticipant("p1")
	assert.True(t, ok)
	assert.Equal(t, "p1", p.UserId)
	assert.Len(t, r.Participants, 3)

	_, ok = r.RemoveParticipant("p1")
	assert.False(t, ok, "expected second removal to report absence")
}

func TestRoom_Successor(t *testing.T) {
	t.Run("earliest moderator wins", func(t *testing.T) {
		r := testRoom()
		p, ok := r.Successor()
		assert.True(t, ok)
		assert.Equal(t, "m2", p.UserId)
	})

	t.Run("earliest participant without moderators", func(t *testing.T) {
		r := testRoom()
		r.RemoveParticipant("m1")
		r.RemoveParticipant("m2")
		p, ok := r.Successor()
		assert.True(t, ok)
		assert.Equal(t, "p1", p.UserId)
	})

	t.Run("host alone", func(t *testing.T) {
		r := &Room{HostId: "h", Participants: []Participant{{UserId: "h", Role: RoleHost}}}
		_, ok := r.Successor()
		assert.False(t, ok)
	})
}

func TestRoom_Validate(t *testing.T) {
	tcases := []struct {
		name   string
		mutate func(r *Room)
		err    bool
	}{
		{name: "valid", mutate: func(r *Room) {}},
		{name: "no host", mutate: func(r *Room) { r.Participants[0].Role = RoleParticipant }, err: true},
		{name: "two hosts", mutate: func(r *Room) { r.Participants[1].Role = RoleHost }, err: true},
		{name: "host id mismatch", mutate: func(r *Room) { r.HostId = "p1" }, err: true},
		{name: "duplicate participant", mutate: func(r *Room) {
			r.Participants = append(r.Participants, Participant{UserId: "p1", Role: RoleParticipant})
		}, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := testRoom()
			tc.mutate(r)
			if tc.err {
				assert.Error(t, r.Validate())
			} else {
				assert.NoError(t, r.Validate())
			}
		})
	}
}

func TestRoom_Clone(t *testing.T) {
	r := testRoom()
	r.CurrentVideo = &Video{VideoId: "dQw4w9WgXcQ"}

	c := r.Clone()
	c.Participants[0].Username = "changed"
	c.CurrentVideo.VideoId = "other"

	assert.Equal(t, "host", r.Participants[0].Username, "expected clone participants to be independent")
	assert.Equal(t, "dQw4w9WgXcQ", r.CurrentVideo.VideoId, "expected clone video to be independent")
}
