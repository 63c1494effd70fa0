// Package tracking captures ad-click attribution for storefront visitors and
// forwards consented conversion events to ad platforms.
//
// A Capturer records click IDs, UTM parameters and first-party ad cookies
// against the fc_session cookie. The Ledger keeps the append-only consent
// history and decides whether marketing dispatch is allowed. The Tracker fans
// one Event out to every registered Platform concurrently, isolating each
// platform's failure from the others and from the caller.
//
// Event IDs are deterministic (see GenerateEventID) so the browser pixel and
// the server-side call for the same action share an ID without coordination.
package tracking
