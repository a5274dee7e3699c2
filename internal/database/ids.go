package database

import "github.com/teris-io/shortid"

// NewMessageId generates the public id of a chat message.
var NewMessageId = shortid.Generate
