package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags every frame on the wire so the receiver never has to guess
// whether it is looking at a control string or a board snapshot.
type Kind byte

const (
	KindText  Kind = 'T' // UTF-8 control signal or chat line
	KindState Kind = 'S' // opaque board snapshot, forwarded verbatim
	KindLoss  Kind = 'W' // "I have lost", sent by the losing side of a match
	KindJSON  Kind = 'J' // handshake documents (win tallies, ready list)
)

// Valid reports whether k is one of the known frame kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindState, KindLoss, KindJSON:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindState:
		return "state"
	case KindLoss:
		return "loss"
	case KindJSON:
		return "json"
	}
	return fmt.Sprintf("kind(%#x)", byte(k))
}

// --- Text signals ---

const (
	// Client -> Server
	SigAck        = "received"
	SigDisconnect = "disconnect"
	PrefixDecline = "Declined%"

	// Both directions
	PrefixReady = "Ready%"

	// Server -> Client
	PrefixStarted  = "Started%"
	PrefixWin      = "Win%"
	PrefixDeparted = "!"
	PrefixTaken    = "Taken%"
	PrefixOpponent = "Opponent%"
	SigClosed      = "closed"
	SuffixEntered  = " has entered the room"
	SuffixDeclined = " declined an invitation"
)

// SignalType classifies a text frame.
type SignalType int

const (
	SignalChat SignalType = iota
	SignalAck
	SignalDecline
	SignalReady
	SignalDisconnect
	SignalStarted
	SignalWin
	SignalDeparted
	SignalEntered
	SignalTaken
	SignalOpponent
	SignalClosed
)

// Signal is a parsed text frame.
type Signal struct {
	Type SignalType
	Name string // player the signal is about, when it carries one
	Text string // raw text as received

	// Only set for SignalStarted.
	Seed int64
	Port int
}

// ParseSignal classifies a text frame. Anything unrecognised is chat.
func ParseSignal(text string) Signal {
	s := Signal{Type: SignalChat, Text: text}
	switch {
	case text == SigAck:
		s.Type = SignalAck
	case text == SigDisconnect:
		s.Type = SignalDisconnect
	case text == SigClosed:
		s.Type = SignalClosed
	case strings.HasPrefix(text, PrefixDecline):
		s.Type = SignalDecline
		s.Name = text[len(PrefixDecline):]
	case strings.HasPrefix(text, PrefixReady):
		s.Type = SignalReady
		s.Name = text[len(PrefixReady):]
	case strings.HasPrefix(text, PrefixStarted):
		seed, port, err := parseStarted(text[len(PrefixStarted):])
		if err == nil {
			s.Type = SignalStarted
			s.Seed = seed
			s.Port = port
		}
	case strings.HasPrefix(text, PrefixWin):
		s.Type = SignalWin
		s.Name = text[len(PrefixWin):]
	case strings.HasPrefix(text, PrefixTaken):
		s.Type = SignalTaken
		s.Name = text[len(PrefixTaken):]
	case strings.HasPrefix(text, PrefixOpponent):
		s.Type = SignalOpponent
		s.Name = text[len(PrefixOpponent):]
	case strings.HasPrefix(text, PrefixDeparted) && len(text) > len(PrefixDeparted):
		s.Type = SignalDeparted
		s.Name = text[len(PrefixDeparted):]
	case strings.HasSuffix(text, SuffixEntered):
		s.Type = SignalEntered
		s.Name = strings.TrimSuffix(text, SuffixEntered)
	}
	return s
}

func parseStarted(body string) (int64, int, error) {
	seedStr, portStr, ok := strings.Cut(body, ",")
	if !ok {
		return 0, 0, fmt.Errorf("started signal %q: missing port", body)
	}
	seed, err := strconv.ParseInt(seedStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("started signal seed: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, 0, fmt.Errorf("started signal port: %w", err)
	}
	return seed, port, nil
}

func Ready(name string) string    { return PrefixReady + name }
func Decline(name string) string  { return PrefixDecline + name }
func Win(name string) string      { return PrefixWin + name }
func Departed(name string) string { return PrefixDeparted + name }
func Taken(name string) string    { return PrefixTaken + name }
func Opponent(name string) string { return PrefixOpponent + name }
func Entered(name string) string  { return name + SuffixEntered }
func Declined(name string) string { return name + SuffixDeclined }

// Started announces a match: reconnect to port and seed the piece bag with seed.
func Started(seed int64, port int) string {
	return PrefixStarted + strconv.FormatInt(seed, 10) + "," + strconv.Itoa(port)
}

// --- Handshake documents (KindJSON) ---

// WinTally maps each roster member to the matches they won in this room.
type WinTally map[string]int

// ReadyList is the set of players currently flagged ready.
type ReadyList []string
