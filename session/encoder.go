package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// CurrentSchemaVersion is the first byte of every encoded Activity.
const CurrentSchemaVersion = 1

// ErrCorrupt is returned for blobs that cannot be decoded.
var ErrCorrupt = errors.New("activity record corrupt")

// Encode serialises a into the compact binary form stored in Redis. The activity id is
// not encoded; it is the key suffix.
func Encode(a *Activity) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(CurrentSchemaVersion)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"userID", a.UserID},
		{"username", a.Username},
		{"userType", a.UserType},
		{"tokenID", a.TokenID},
		{"refreshTokenID", a.RefreshTokenID},
		{"deviceID", a.DeviceID},
		{"clientIP", a.ClientIP},
		{"userAgent", a.UserAgent},
	} {
		if len(field.value) > math.MaxUint16 {
			return nil, fmt.Errorf("%s too long", field.name)
		}
		var n [2]byte
		binary.BigEndian.PutUint16(n[:], uint16(len(field.value)))
		buf.Write(n[:])
		buf.WriteString(field.value)
	}

	for _, t := range []time.Time{a.CreatedAt, a.LastSeenAt, a.AccessExpiresAt, a.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, t.UnixMilli()); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Activity, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrCorrupt, version)
	}

	a := &Activity{}
	for _, dst := range []*string{
		&a.UserID, &a.Username, &a.UserType, &a.TokenID,
		&a.RefreshTokenID, &a.DeviceID, &a.ClientIP, &a.UserAgent,
	} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		*dst = string(raw)
	}

	for _, dst := range []*time.Time{&a.CreatedAt, &a.LastSeenAt, &a.AccessExpiresAt, &a.ExpiresAt} {
		var ms int64
		if err := binary.Read(reader, binary.BigEndian, &ms); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		*dst = time.UnixMilli(ms)
	}

	if reader.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, reader.Len())
	}
	if a.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrCorrupt)
	}
	return a, nil
}
