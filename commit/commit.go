// Package commit defines the commit model: ordered, immutable commit
// ranges where each commit carries its parsed conventional-commit
// structure. Ranges are supplied by a Source (git plumbing lives behind
// that interface, outside this package).
package commit

import (
	"fmt"
	"regexp"
	"strings"

	conventionalcommits "github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"
)

// Footer is one (key, value) trailer from a commit message, in message order.
type Footer struct {
	Key   string
	Value string
}

// Conventional is the parsed structure of a conventional-commit message.
type Conventional struct {
	// Type is the commit type (fix, feat, chore, ...).
	Type string
	// Scope is the optional scope, empty when absent.
	Scope string
	// Breaking is true for `type!:` or a BREAKING CHANGE footer.
	Breaking bool
	// Description is the subject line description.
	Description string
	// Body is the free-form body, empty when absent.
	Body string
	// Footers are the trailers in the order they appear in the message.
	Footers []Footer
}

// Commit is one commit in a range.
// A commit whose message does not parse as a conventional commit has
// Parsed == nil and keeps the raw message (the unparseable variant).
type Commit struct {
	// Hash is the full commit hash.
	Hash string
	// Subject is the first line of the message.
	Subject string
	// Message is the full raw message.
	Message string
	// Author is the author identity ("Name <email>").
	Author string
	// Parsed is the conventional-commit structure, nil when unparseable.
	Parsed *Conventional
}

// Unparseable reports whether the commit message failed conventional parsing.
func (c *Commit) Unparseable() bool { return c.Parsed == nil }

// ShortHash returns the abbreviated hash used in identifiers and logs.
func (c *Commit) ShortHash() string {
	if len(c.Hash) > 10 {
		return c.Hash[:10]
	}
	return c.Hash
}

// Range is an ordered, immutable sequence of commits between a base and a
// target reference. Commits are ordered oldest to newest along the
// first-parent chain from target back to base.
type Range struct {
	// Base is the commit the range starts after (exclusive).
	Base string
	// Target is the commit the range ends at (inclusive).
	Target string
	// Commits is the ordered sequence, oldest first.
	Commits []Commit
}

// Empty reports whether the range contains no commits.
func (r *Range) Empty() bool { return r == nil || len(r.Commits) == 0 }

// First returns the oldest commit of the range, the first commit unique
// to the lineage along the first-parent chain. Nil for empty ranges.
func (r *Range) First() *Commit {
	if r.Empty() {
		return nil
	}
	return &r.Commits[0]
}

// footerLine matches one git trailer line: "Key: value" or "Key #value".
// BREAKING CHANGE is the only key allowed to contain a space.
var footerLine = regexp.MustCompile(`^(BREAKING CHANGE|[A-Za-z][A-Za-z0-9-]*)(?:: | #)(.*)$`)

// ParseMessage parses a commit message into its conventional structure.
// Returns an error for messages that do not follow the convention; the
// caller decides whether that is fatal (strict bump policy) or merely a
// none-level commit.
func ParseMessage(message string) (*Conventional, error) {
	machine := parser.NewMachine(
		conventionalcommits.WithTypes(conventionalcommits.TypesConventional),
	)

	res, err := machine.Parse([]byte(message))
	if err != nil {
		return nil, fmt.Errorf("not a conventional commit: %w", err)
	}
	cc, ok := res.(*conventionalcommits.ConventionalCommit)
	if !ok || !cc.Ok() {
		return nil, fmt.Errorf("not a conventional commit: %q", firstLine(message))
	}

	parsed := &Conventional{
		Type:        cc.Type,
		Breaking:    cc.IsBreakingChange(),
		Description: cc.Description,
		// Footers below are re-extracted from the raw message: the
		// library exposes them as a map, but the model requires them
		// in message order.
		Footers: extractFooters(message),
	}
	if cc.Scope != nil {
		parsed.Scope = *cc.Scope
	}
	if cc.Body != nil {
		parsed.Body = *cc.Body
	}
	return parsed, nil
}

// New builds a Commit from raw git data, attempting conventional parsing.
// Parsing failure is not an error at this level; the commit is marked
// unparseable and the bump policy decides what that means.
func New(hash, message, author string) Commit {
	c := Commit{
		Hash:    hash,
		Subject: firstLine(message),
		Message: message,
		Author:  author,
	}
	if parsed, err := ParseMessage(message); err == nil {
		c.Parsed = parsed
	}
	return c
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}

// extractFooters scans the trailer block at the end of a message and
// returns the trailers in order. A trailer block is the final paragraph
// in which every line is a trailer (continuation lines folded into the
// preceding value).
func extractFooters(message string) []Footer {
	paragraphs := strings.Split(strings.TrimRight(message, "\n"), "\n\n")
	if len(paragraphs) < 2 {
		return nil
	}

	var footers []Footer
	for _, line := range strings.Split(paragraphs[len(paragraphs)-1], "\n") {
		m := footerLine.FindStringSubmatch(line)
		if m == nil {
			// Continuation of the previous trailer value.
			if len(footers) > 0 && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
				footers[len(footers)-1].Value += "\n" + strings.TrimSpace(line)
				continue
			}
			return nil // not a trailer block
		}
		footers = append(footers, Footer{Key: m[1], Value: m[2]})
	}
	return footers
}
