package main

const (
	appVersion = "1.0.0"
)

// Store keys for the central system's own facts.
const (
	StartedAtKey        = "started_at"
	StoppedAtKey        = "stopped_at"
	VersionKey          = "cs_version"
	ListenAddrKey       = "listen_addr"
	SubprotocolsKey     = "subprotocols"
	AuthModeKey         = "auth_mode"
	TotalCostKey        = "total_cost"
	ConnectionsKey      = "connections_total"
	DisconnectionsKey   = "disconnections_total"
	LastConnectedKey    = "last_connected"
	LastDisconnectedKey = "last_disconnected"
)

// maxValueLen caps values printed by /list-db.
const maxValueLen = 150
