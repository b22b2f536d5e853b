// Package directive parses inline control directives out of AI reply text.
//
// Two directive families are recognized:
//
//	<"脸红":on>  <"脸红":off>  <"挥手">          expression control
//	*[Music]:告白气球.周杰伦*  *[BGM]:"on"*      media control
//
// Everything else, including malformed bracket or star content, passes
// through as literal text for the speech pipeline.
package directive

import (
	"strings"
	"unicode"
)

// Kind identifies a directive variant.
type Kind int

const (
	// KindExpressionPersistent is <"NAME":on> / <"NAME":off>.
	KindExpressionPersistent Kind = iota
	// KindExpressionOneShot is <"NAME"> with no on/off suffix.
	KindExpressionOneShot
	// KindExpressionToggle is any expression directive naming a configured
	// toggle-special expression; the on/off suffix is ignored entirely.
	KindExpressionToggle
	// KindMusicRequest is *[Music]:TITLE* or *[Music]:TITLE.ARTIST*.
	KindMusicRequest
	// KindMusicStop is *[Music]:none* (also "off" / "stop").
	KindMusicStop
	// KindBgmSet is *[BGM]:"on"* / *[BGM]:"off"* and their keyword synonyms.
	KindBgmSet
	// KindBgmPlaylist is *[BGM]:PLAYLIST_ID* with a numeric id or playlist URL.
	KindBgmPlaylist
)

func (k Kind) String() string {
	switch k {
	case KindExpressionPersistent:
		return "expression_persistent"
	case KindExpressionOneShot:
		return "expression_oneshot"
	case KindExpressionToggle:
		return "expression_toggle"
	case KindMusicRequest:
		return "music_request"
	case KindMusicStop:
		return "music_stop"
	case KindBgmSet:
		return "bgm_set"
	case KindBgmPlaylist:
		return "bgm_playlist"
	}
	return "unknown"
}

// Directive is a parsed control instruction.
type Directive struct {
	Kind       Kind
	Name       string // expression name
	On         bool   // KindExpressionPersistent / KindBgmSet
	Title      string // KindMusicRequest
	Artist     string // KindMusicRequest, may be empty
	PlaylistID int64  // KindBgmPlaylist
}

// Token is one element of the scanned sequence: either a literal text run
// (Directive == nil) or a parsed directive.
type Token struct {
	Text      string
	Directive *Directive
}

// Roles tells the scanner which expression names are toggle-special, so their
// directives classify as KindExpressionToggle regardless of suffix.
type Roles struct {
	ToggleSpecial map[string]bool
}

// Scanner walks reply text left to right producing tokens in source order.
// It is single-pass and non-restartable.
type Scanner struct {
	src     string
	pos     int
	roles   Roles
	pending *Token // directive waiting behind a flushed text run
}

// NewScanner returns a scanner over src.
func NewScanner(src string, roles Roles) *Scanner {
	return &Scanner{src: src, roles: roles}
}

// ScanAll drains a scanner over src into a slice.
func ScanAll(src string, roles Roles) []Token {
	s := NewScanner(src, roles)
	var tokens []Token
	for {
		tok, ok := s.Next()
		if !ok {
			break
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Next returns the next token. The second result is false once the input is
// exhausted.
func (s *Scanner) Next() (Token, bool) {
	if s.pending != nil {
		tok := *s.pending
		s.pending = nil
		return tok, true
	}
	if s.pos >= len(s.src) {
		return Token{}, false
	}

	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c != '<' && c != '*' {
			s.pos++
			continue
		}

		var (
			dir *Directive
			end int
		)
		if c == '<' {
			dir, end = s.parseExpression(s.pos)
		} else {
			dir, end = s.parseStarAction(s.pos)
		}
		if dir == nil {
			// Not a well-formed directive; the sigil is literal text.
			s.pos++
			continue
		}

		if s.pos > start {
			// Flush the literal run first, hold the directive for the
			// following call so ordering is preserved.
			text := s.src[start:s.pos]
			s.pos = end
			s.pending = &Token{Directive: dir}
			return Token{Text: text}, true
		}
		s.pos = end
		return Token{Directive: dir}, true
	}

	return Token{Text: s.src[start:s.pos]}, true
}

// parseExpression parses <"NAME"> / <"NAME":on> / <"NAME":off> starting at
// the '<' at pos. Returns the directive and the index just past '>', or nil
// when the bracket content is not a directive.
func (s *Scanner) parseExpression(pos int) (*Directive, int) {
	i := pos + 1
	i = skipSpaces(s.src, i)
	if i >= len(s.src) || s.src[i] != '"' {
		return nil, 0
	}
	i++
	nameEnd := strings.IndexByte(s.src[i:], '"')
	if nameEnd <= 0 {
		return nil, 0
	}
	name := s.src[i : i+nameEnd]
	i += nameEnd + 1
	i = skipSpaces(s.src, i)

	var (
		hasSuffix bool
		on        bool
	)
	if i < len(s.src) && s.src[i] == ':' {
		i = skipSpaces(s.src, i+1)
		switch {
		case strings.HasPrefix(s.src[i:], "on"):
			hasSuffix, on = true, true
			i += 2
		case strings.HasPrefix(s.src[i:], "off"):
			hasSuffix, on = true, false
			i += 3
		default:
			return nil, 0
		}
		i = skipSpaces(s.src, i)
	}
	if i >= len(s.src) || s.src[i] != '>' {
		return nil, 0
	}
	i++

	if s.roles.ToggleSpecial[name] {
		return &Directive{Kind: KindExpressionToggle, Name: name}, i
	}
	if hasSuffix {
		return &Directive{Kind: KindExpressionPersistent, Name: name, On: on}, i
	}
	return &Directive{Kind: KindExpressionOneShot, Name: name}, i
}

// parseStarAction parses *[Action]:Content* starting at the '*' at pos.
func (s *Scanner) parseStarAction(pos int) (*Directive, int) {
	i := pos + 1
	if i >= len(s.src) || s.src[i] != '[' {
		return nil, 0
	}
	i++
	actionStart := i
	for i < len(s.src) && isASCIILetter(s.src[i]) {
		i++
	}
	if i == actionStart || i >= len(s.src) || s.src[i] != ']' {
		return nil, 0
	}
	action := strings.ToLower(s.src[actionStart:i])
	i++
	if i >= len(s.src) || s.src[i] != ':' {
		return nil, 0
	}
	i++
	contentEnd := strings.IndexByte(s.src[i:], '*')
	if contentEnd <= 0 {
		return nil, 0
	}
	content := strings.TrimSpace(s.src[i : i+contentEnd])
	end := i + contentEnd + 1
	if content == "" {
		return nil, 0
	}

	switch action {
	case "music":
		return parseMusic(content), end
	case "bgm":
		return parseBgm(content), end
	default:
		// Unknown action verbs stay literal text.
		return nil, 0
	}
}

func parseMusic(content string) *Directive {
	switch strings.ToLower(content) {
	case "none", "off", "stop":
		return &Directive{Kind: KindMusicStop}
	}
	title, artist := content, ""
	if dot := strings.IndexByte(content, '.'); dot >= 0 {
		title = strings.TrimSpace(content[:dot])
		artist = strings.TrimSpace(content[dot+1:])
	}
	if title == "" {
		return nil
	}
	return &Directive{Kind: KindMusicRequest, Title: title, Artist: artist}
}

func parseBgm(content string) *Directive {
	if len(content) >= 2 && isQuote(content[0]) && content[len(content)-1] == content[0] {
		switch strings.ToLower(content[1 : len(content)-1]) {
		case "on", "open", "start":
			return &Directive{Kind: KindBgmSet, On: true}
		case "off", "close", "stop":
			return &Directive{Kind: KindBgmSet, On: false}
		}
		return nil
	}
	if id, ok := parsePlaylistID(content); ok {
		return &Directive{Kind: KindBgmPlaylist, PlaylistID: id}
	}
	return nil
}

// parsePlaylistID accepts a bare numeric id or a music.163.com playlist URL,
// optionally prefixed with '@' when quoted from chat.
func parsePlaylistID(raw string) (int64, bool) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if raw == "" {
		return 0, false
	}
	if id, ok := parseDigits(raw); ok {
		return id, true
	}
	idx := strings.Index(raw, "id=")
	if idx < 0 {
		return 0, false
	}
	rest := raw[idx+3:]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	return parseDigits(rest[:end])
}

func parseDigits(s string) (int64, bool) {
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, len(s) > 0
}

func skipSpaces(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func isASCIILetter(c byte) bool {
	return unicode.IsLetter(rune(c)) && c < 128
}

func isQuote(c byte) bool {
	return c == '"' || c == '\''
}
