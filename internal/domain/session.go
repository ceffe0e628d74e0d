// Package domain contains core domain types for the RAG chat client.
package domain

// Connectivity is the observed state of a chat session's transport.
type Connectivity int

const (
	ConnUninitialized Connectivity = iota
	ConnConnecting
	ConnOpen
	ConnClosed
	ConnErrored
)

func (c Connectivity) String() string {
	switch c {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	case ConnErrored:
		return "errored"
	default:
		return "uninitialized"
	}
}

// MarshalText renders the connectivity as its lowercase name.
func (c Connectivity) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// URLState distinguishes a session that never asked for a passport from one
// whose passport was rejected.
type URLState int

const (
	// URLNotRequested triggers passport acquisition on the next connect.
	URLNotRequested URLState = iota
	// URLCleared means the passport was rejected; nothing is requested until reset.
	URLCleared
	// URLAssigned means a transport URL is known and can be reused.
	URLAssigned
)

func (s URLState) String() string {
	switch s {
	case URLCleared:
		return "cleared"
	case URLAssigned:
		return "assigned"
	default:
		return "not_requested"
	}
}

// MarshalText renders the URL state as its name.
func (s URLState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is the live chat session of one client instance.
type Session struct {
	ID           string       `json:"id,omitempty"`
	URLState     URLState     `json:"url_state"`
	TransportURL string       `json:"ws_url,omitempty"`
	Connectivity Connectivity `json:"connectivity"`
}

// HasURL reports whether a transport URL can be reused without a new passport.
func (s *Session) HasURL() bool {
	return s.URLState == URLAssigned && s.TransportURL != ""
}

// Passport is a server-issued chat session handle.
type Passport struct {
	ID    string `json:"chat_passport_id"`
	WSURL string `json:"ws_url"`
}
