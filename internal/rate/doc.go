// Package rate implements the fixed-window per-IP login throttle kept in Redis.
//
// Counters live under "login-throttle:ip:<ip>". The first failure in a window sets the
// key TTL; the counter is cleared after a successful login.
package rate
