// Package session provides the client-resident session, token-lifecycle,
// and access-control layer for admin applications.
//
// Session lifecycle:
//   - Coordinator owns the authoritative in-memory Session (user,
//     permissions, authenticated flag). It restores persisted sessions on
//     startup, exchanges credentials with an external identity provider,
//     and mirrors every authenticated transition to storage before the
//     in-memory state commits.
//   - Bus broadcasts LOGIN_SUCCESS, LOGOUT, UNAUTHORIZED, FORBIDDEN, and
//     TOKEN_REFRESHED to decoupled listeners. Delivery is synchronous and
//     FIFO per listener relative to publish order; there is no ordering
//     guarantee across independent listeners.
//
// Access control:
//   - AuthClient wraps outbound calls with bearer attachment and a hard
//     retry-once-on-unauthorized policy backed by a single coalesced
//     refresh. Unauthorized detection happens through one Classifier
//     predicate at the transport boundary.
//   - Guard is a per-view verification state machine that consults the
//     Coordinator and a permission/role predicate, re-evaluating on every
//     bus signal.
//
// Quick login:
//   - PinPolicy tracks failed PIN attempts, timed lockouts, and PIN reuse
//     history per username, persisted device-locally and never sent to the
//     server in plaintext.
package session
