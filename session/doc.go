// Package session tracks active login sessions ("activities") in Redis.
//
// Every activity is stored under "activity:<id>" in a compact versioned binary form,
// indexed per user in the set "activity-index:<userID>" and scheduled for sweeping in
// the sorted set "activity-expiry". Multi-key writes run as Lua scripts or WATCH
// transactions so the three structures never disagree for longer than one sweep.
//
// The package does not parse tokens. Forced logouts hand token ids to a [TokenRevoker]
// and remove the records; callers decide what a session means.
package session
