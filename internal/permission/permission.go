// Package permission holds the authorization predicates used by the room
// coordinator.
package permission

import "github.com/npezzotti/go-watchparty/internal/types"

// CanControlPlayback reports whether role may play, pause, seek or change
// the video.
func CanControlPlayback(role types.Role) bool {
	return role == types.RoleHost || role == types.RoleModerator
}

// IsHost reports whether userId is the room's current host.
func IsHost(room *types.Room, userId string) bool {
	return room != nil && userId != "" && room.HostId == userId
}
