package types

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

// ParseRole returns the Role named by s, or false if s is not a known role.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleHost, RoleModerator, RoleParticipant:
		return r, true
	default:
		return "", false
	}
}

type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// Identity is the verified user attached to a connection or request.
type Identity struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
}

type Participant struct {
	UserId   string    `json:"userId"`
	Username string    `json:"username"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Video struct {
	VideoId  string    `json:"videoId"`
	Title    string    `json:"title"`
	LoadedAt time.Time `json:"loadedAt"`
}

type PlaybackState struct {
	IsPlaying   bool      `json:"isPlaying"`
	Timestamp   float64   `json:"timestamp"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type Room struct {
	Id             int64         `json:"id"`
	RoomCode       string        `json:"roomCode"`
	HostId         string        `json:"hostId"`
	Participants   []Participant `json:"participants"`
	CurrentVideo   *Video        `json:"currentVideo"`
	PlaybackState  PlaybackState `json:"playbackState"`
	IsActive       bool          `json:"isActive"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	// Version is incremented on every successful update and is used
	// for compare-and-swap writes.
	Version int64 `json:"-"`
}

type Message struct {
	Id        string      `json:"id"`
	RoomId    int64       `json:"roomId"`
	RoomCode  string      `json:"roomCode"`
	UserId    string      `json:"userId,omitempty"`
	Username  string      `json:"username,omitempty"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// Participant returns the participant with the given user id.
func (r *Room) Participant(userId string) (*Participant, bool) {
	for i := range r.Participants {
		if r.Participants[i].UserId == userId {
			return &r.Participants[i], true
		}
	}
	return nil, false
}

// RemoveParticipant deletes userId from the participant set and reports
// whether it was present.
func (r *Room) RemoveParticipant(userId string) (Participant, bool) {
	for i, p := range r.Participants {
		if p.UserId == userId {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return p, true
		}
	}
	return Participant{}, false
}

// Successor picks the participant that should become host when the current
// host leaves: the longest-present moderator, else the longest-present
// participant.
func (r *Room) Successor() (*Participant, bool) {
	var best *Participant
	for i := range r.Participants {
		p := &r.Participants[i]
		if p.UserId == r.HostId {
			continue
		}
		if best == nil ||
			(p.Role == RoleModerator && best.Role != RoleModerator) ||
			(p.Role == best.Role && p.JoinedAt.Before(best.JoinedAt)) {
			best = p
		}
	}
	return best, best != nil
}

// Validate checks that the room has exactly one host and no duplicate members.
func (r *Room) Validate() error {
	hosts := 0
	seen := make(map[string]struct{}, len(r.Participants))
	for _, p := range r.Participants {
		if _, dup := seen[p.UserId]; dup {
			return fmt.Errorf("duplicate participant %q", p.UserId)
		}
		seen[p.UserId] = struct{}{}
		if p.Role == RoleHost {
			hosts++
			if p.UserId != r.HostId {
				return fmt.Errorf("participant %q has host role but room host is %q", p.UserId, r.HostId)
			}
		}
	}
	if hosts != 1 {
		return fmt.Errorf("room must have exactly one host, found %d", hosts)
	}
	return nil
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	c := *r
	c.Participants = append([]Participant(nil), r.Participants...)
	if r.CurrentVideo != nil {
		v := *r.CurrentVideo
		c.CurrentVideo = &v
	}
	return &c
}
