// Package permission maps user types to flat permission sets.
//
// There is no role hierarchy: a user type owns a fixed list of permission codes, and
// tokens carry them as one comma-joined string. The package is pure in-memory state with
// no I/O.
package permission
