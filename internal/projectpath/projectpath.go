// Package projectpath maps filesystem paths to the flattened directory names
// agents use for per-project transcript storage, and back.
//
// Encoding is lossy: path separators and dashes inside folder names both
// become "-". Decoding therefore probes the real filesystem for the longest
// existing prefix and falls back to a lexical rule. Callers that know the
// set of live working directories should prefer [Resolve], which compares
// encodings instead of guessing.
package projectpath

import (
	"os"
	"path/filepath"
	"strings"
)

// ///////////////////////////////////////////////
// Encoding
// ///////////////////////////////////////////////

// Encode flattens path into a directory name. Separators become "-" and a
// separator followed by a hidden folder's dot becomes "--".
//
//	/Users/me/Projects/app          -> -Users-me-Projects-app
//	/Users/me/app/.worktrees/fix-1  -> -Users-me-app--worktrees-fix-1
func Encode(path string) string {
	p := filepath.ToSlash(path)
	p = strings.ReplaceAll(p, "/.", "--")
	return strings.ReplaceAll(p, "/", "-")
}

// EncodeLoose flattens path the way newer agent releases do: every rune
// outside [A-Za-z0-9-] becomes "-". Underscores, spaces, and dots are
// therefore indistinguishable from separators.
func EncodeLoose(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for _, r := range filepath.ToSlash(path) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Resolve returns the entry of cwds whose encoding equals encoded, trying the
// strict encoding first and the loose one second.
func Resolve(encoded string, cwds []string) (string, bool) {
	for _, c := range cwds {
		if Encode(c) == encoded {
			return c, true
		}
	}
	for _, c := range cwds {
		if EncodeLoose(c) == encoded {
			return c, true
		}
	}
	return "", false
}

// ///////////////////////////////////////////////
// Decoding
// ///////////////////////////////////////////////

// DefaultAnchors are folder names after which the remaining tokens are taken
// as a single project folder name during lexical decoding.
var DefaultAnchors = []string{"Projects", "UnityProjects"}

// Codec decodes encoded project directory names.
type Codec struct {
	// Anchors guide [Codec.Lexical]; see [DefaultAnchors].
	Anchors []string
	// IsDir reports whether path is an existing directory.
	IsDir func(path string) bool
}

// New returns a Codec that probes the real filesystem.
func New(anchors []string) *Codec {
	return &Codec{Anchors: anchors, IsDir: isDir}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// token is one dash-separated piece of an encoded name. hidden marks a token
// that followed "--" and therefore starts a new dot-prefixed component.
type token struct {
	text   string
	hidden bool
}

// tokenize splits an encoded name into tokens, folding each "--" into the
// hidden flag of the token that follows it.
func tokenize(encoded string) []token {
	raw := strings.Split(strings.TrimPrefix(encoded, "-"), "-")
	var toks []token
	hidden := false
	for _, r := range raw {
		if r == "" {
			hidden = true
			continue
		}
		toks = append(toks, token{text: r, hidden: hidden})
		hidden = false
	}
	return toks
}

// Decode reconstructs the path for encoded by walking the filesystem left to
// right, at each level taking the longest run of tokens that names an existing
// directory. exact is true when the whole path was found on disk; otherwise
// the unmatched remainder is decoded lexically.
func (c *Codec) Decode(encoded string) (path string, exact bool) {
	toks := tokenize(encoded)
	if len(toks) == 0 {
		return "/", true
	}
	if p, ok := c.probe("/", toks); ok {
		return p, true
	}

	// Longest existing prefix, lexical remainder.
	dir, rest := c.longestPrefix("/", toks)
	return filepath.Join(dir, lexicalTail(rest, c.Anchors, dir == "/")), false
}

// probe attempts a full on-disk match of toks beneath dir.
func (c *Codec) probe(dir string, toks []token) (string, bool) {
	if len(toks) == 0 {
		return dir, true
	}
	for k := runLength(toks); k >= 1; k-- {
		candidate := filepath.Join(dir, joinTokens(toks[:k]))
		if !c.IsDir(candidate) {
			continue
		}
		if p, ok := c.probe(candidate, toks[k:]); ok {
			return p, true
		}
	}
	return "", false
}

// longestPrefix greedily descends into existing directories and returns the
// deepest one reached plus the tokens not consumed.
func (c *Codec) longestPrefix(dir string, toks []token) (string, []token) {
	for len(toks) > 0 {
		advanced := false
		for k := runLength(toks); k >= 1; k-- {
			candidate := filepath.Join(dir, joinTokens(toks[:k]))
			if c.IsDir(candidate) {
				dir, toks = candidate, toks[k:]
				advanced = true
				break
			}
		}
		if !advanced {
			break
		}
	}
	return dir, toks
}

// runLength returns how many leading tokens may be joined into a single
// component: a run stops before the next hidden token.
func runLength(toks []token) int {
	n := 1
	for n < len(toks) && !toks[n].hidden {
		n++
	}
	return n
}

// joinTokens joins tokens with "-", prefixing "." when the run is hidden.
func joinTokens(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.text
	}
	name := strings.Join(parts, "-")
	if toks[0].hidden {
		name = "." + name
	}
	return name
}

// Lexical decodes encoded without touching the filesystem. Tokens before the
// last anchor are path components; tokens after it up to the first hidden
// boundary form the project folder name (dashes kept). Each hidden segment
// starts with "." and its inner dashes separate subfolders. Without an
// anchor every dash is a separator.
func (c *Codec) Lexical(encoded string) string {
	toks := tokenize(encoded)
	return "/" + lexicalTail(toks, c.Anchors, true)
}

// lexicalTail renders toks as a relative path. Anchors are only honored when
// toks start at the filesystem root.
func lexicalTail(toks []token, anchors []string, fromRoot bool) string {
	if len(toks) == 0 {
		return ""
	}

	anchor := -1
	if fromRoot {
		for i, t := range toks {
			if t.hidden {
				break
			}
			for _, a := range anchors {
				if t.text == a {
					anchor = i
				}
			}
		}
	}

	var parts []string
	i := 0
	if anchor >= 0 {
		for ; i <= anchor; i++ {
			parts = append(parts, toks[i].text)
		}
		if i < len(toks) && !toks[i].hidden {
			n := runLength(toks[i:])
			parts = append(parts, joinTokens(toks[i:i+n]))
			i += n
		}
	} else if !fromRoot && !toks[0].hidden {
		// Below an existing directory the next run is one folder name.
		n := runLength(toks)
		parts = append(parts, joinTokens(toks[:n]))
		i = n
	}
	for ; i < len(toks); i++ {
		name := toks[i].text
		if toks[i].hidden {
			name = "." + name
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, "/")
}
