package tracking

import (
	"context"
	"fmt"
	"time"
)

// EventKind names a conversion event.
type EventKind string

const (
	ViewContent      EventKind = "ViewContent"
	AddToCart        EventKind = "AddToCart"
	InitiateCheckout EventKind = "InitiateCheckout"
	Purchase         EventKind = "Purchase"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case ViewContent, AddToCart, InitiateCheckout, Purchase:
		return true
	}
	return false
}

// UserData identifies the visitor to the ad platform. It is filled from the
// attribution session at dispatch time. Email is raw here and must be hashed
// by adapters before it leaves the process.
type UserData struct {
	Email     string
	IP        string
	UserAgent string
	FBC       string
	FBP       string
	FBCLID    string
	GCLID     string
	TTCLID    string
	// ClickTime is when FBCLID was first seen; zero when unknown.
	ClickTime time.Time
}

// Event is the platform-agnostic payload for one dispatch. It is never stored.
type Event struct {
	ID          string
	Kind        EventKind
	ProductIDs  []string
	ProductName string
	Value       int64 // minor units
	Currency    string
	NumItems    int
	SourceURL   string
	User        UserData
	Time        time.Time
}

// MajorValue converts the minor-unit value to major units.
func (e Event) MajorValue() float64 {
	return float64(e.Value) / 100
}

// Platform is the contract every ad platform adapter implements.
type Platform interface {
	Name() string
	SendViewContent(ctx context.Context, ev Event) error
	SendAddToCart(ctx context.Context, ev Event) error
	SendInitiateCheckout(ctx context.Context, ev Event) error
	SendPurchase(ctx context.Context, ev Event) error
}

// DispatchError is returned by adapters when the platform answers with a
// non-success status.
type DispatchError struct {
	Platform string
	Status   int
	Body     string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Platform, e.Status, e.Body)
}
