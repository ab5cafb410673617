package opening

import (
	"fmt"
	"regexp"
	"strings"

	chesslib "github.com/corentings/chess/v2"
)

// ParseError reports a move token that could not be converted into a legal
// move for the position it was played from.
type ParseError struct {
	Ply   int
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse move %q at ply %d: %v", e.Token, e.Ply, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var moveNumberRe = regexp.MustCompile(`^\d+\.(\.\.)?$`)

func skipToken(tok string) bool {
	switch tok {
	case "", "*", "1-0", "0-1", "1/2-1/2":
		return true
	}
	return moveNumberRe.MatchString(tok)
}

// Session is an incremental move normalizer. It keeps the position reached so
// far so that appended moves are parsed without replaying the whole game.
// Not safe for concurrent use; callers serialize per game.
type Session struct {
	game   *chesslib.Game
	tokens []string
}

func NewSession() *Session {
	return &Session{game: chesslib.NewGame()}
}

// Push parses one raw move (UCI preferred, SAN fallback) and returns its
// canonical SAN token. Move numbers and result markers are skipped and
// reported with an empty token.
func (s *Session) Push(raw string) (string, error) {
	tok := strings.TrimSpace(raw)
	if skipToken(tok) {
		return "", nil
	}
	pos := s.game.Position()
	uci := chesslib.UCINotation{}
	alg := chesslib.AlgebraicNotation{}

	if err := s.game.PushNotationMove(strings.ToLower(tok), uci, nil); err != nil {
		if err := s.game.PushNotationMove(tok, alg, nil); err != nil {
			return "", &ParseError{Ply: len(s.tokens) + 1, Token: tok, Err: err}
		}
	}
	moves := s.game.Moves()
	last := moves[len(moves)-1]
	san := alg.Encode(pos, last)
	s.tokens = append(s.tokens, san)
	return san, nil
}

// PushAll feeds every whitespace-separated move of raw and returns the
// canonical tokens that were appended.
func (s *Session) PushAll(raw string) ([]string, error) {
	var added []string
	for _, f := range strings.Fields(raw) {
		tok, err := s.Push(f)
		if err != nil {
			return added, err
		}
		if tok != "" {
			added = append(added, tok)
		}
	}
	return added, nil
}

// Len returns the number of canonical tokens consumed so far.
func (s *Session) Len() int { return len(s.tokens) }

// Tokens returns a copy of all canonical tokens consumed so far.
func (s *Session) Tokens() []string {
	return append([]string(nil), s.tokens...)
}

// Normalize converts raw move text into the ordered canonical token sequence.
// Pure: a fresh session is used and discarded.
func Normalize(raw string) ([]string, error) {
	sess := NewSession()
	if _, err := sess.PushAll(raw); err != nil {
		return nil, err
	}
	return sess.tokens, nil
}
