package domain

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SessionIDPattern is the shape every cart session identifier must match.
// Identifiers that fail it are regenerated rather than repaired.
var SessionIDPattern = regexp.MustCompile(`^cart_\d+_[a-z0-9]+$`)

// ProductIDPattern constrains product identifiers accepted from the outside.
var ProductIDPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)

// NewSessionID generates an opaque session identifier for a cart owner.
func NewSessionID() string {
	return fmt.Sprintf("cart_%d_%s", time.Now().UnixMilli(), strconv.FormatInt(rand.Int63(), 36))
}

// NewLineID generates an opaque id for a cart or saved-for-later line.
func NewLineID() string {
	return uuid.New().String()
}

// ValidSessionID reports whether the given session id matches the required
// shape.
func ValidSessionID(id string) bool {
	return id != "" && SessionIDPattern.MatchString(id)
}

// ValidProductID reports whether the given product id is acceptable input.
func ValidProductID(id string) bool {
	return id != "" && len(id) <= 50 && ProductIDPattern.MatchString(id)
}
