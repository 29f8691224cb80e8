package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/targetd/internal/auth"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// ticketCleanupInterval is how often expired tickets are purged.
	ticketCleanupInterval = time.Minute
)

// ticketResponse is the response body for POST /auth/ws-ticket.
type ticketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int    `json:"expires_in"`
}

// meResponse is the response body for GET /auth/me.
type meResponse struct {
	Subject     string            `json:"subject,omitempty"`
	Role        auth.Role         `json:"role"`
	Permissions []auth.Permission `json:"permissions"`
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
	now     func() time.Time
}

type ticketEntry struct {
	expiresAt time.Time
	subject   string
	role      auth.Role
}

func newTicketStore() *ticketStore {
	return &ticketStore{
		tickets: make(map[string]ticketEntry),
		now:     time.Now,
	}
}

func (ts *ticketStore) issue(subject string, role auth.Role) string {
	ticket := uuid.NewString()
	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{
		expiresAt: ts.now().Add(ticketTTL),
		subject:   subject,
		role:      role,
	}
	ts.mu.Unlock()
	return ticket
}

// redeem consumes a ticket. A ticket is valid exactly once.
func (ts *ticketStore) redeem(ticket string) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	entry, ok := ts.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(ts.tickets, ticket)
	if ts.now().After(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

func (ts *ticketStore) purge() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	now := ts.now()
	n := 0
	for t, e := range ts.tickets {
		if now.After(e.expiresAt) {
			delete(ts.tickets, t)
			n++
		}
	}
	return n
}

// handleWSTicket issues a single-use ticket for the WebSocket upgrade.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{
		Ticket:    s.tickets.issue(claims.Subject, claims.Role),
		ExpiresIn: int(ticketTTL.Seconds()),
	})
}

// handleMe reports the caller's identity and what its role may do, so
// clients can hide actions the server would refuse.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}
	perms := auth.PermissionsForRole(claims.Role)
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, meResponse{
		Subject:     claims.Subject,
		Role:        claims.Role,
		Permissions: perms,
	})
}

// cleanTicketsLoop purges expired tickets until ctx is done.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.tickets.purge(); n > 0 {
				s.logger.Debug("expired websocket tickets purged", "count", n)
			}
		}
	}
}
