// Package trie implements a character trie over a tokenizer vocabulary.
//
// Every node records the ids of all tokens whose decoded text passes through
// it, so a prefix lookup is a single walk. The trie is built once and is safe
// for concurrent readers afterwards.
package trie

import "unicode/utf8"

// node is a single character position in the trie.
type node struct {
	children map[rune]*node
	tokens   map[int]struct{}
	// ending holds ids whose text ends exactly here, in insertion order.
	ending []int
}

func newNode() *node {
	return &node{
		children: make(map[rune]*node),
		tokens:   make(map[int]struct{}),
	}
}

// Trie maps character prefixes to the token ids that start with them.
//
// Add is not safe for concurrent use; lookups are safe once construction
// is finished.
type Trie struct {
	root  *node
	nodes int
}

// New returns an empty trie.
func New() *Trie {
	return &Trie{root: newNode(), nodes: 1}
}

// Add inserts a token. The id is recorded on the root and on every node along
// the token's text. Adding the same id twice is a no-op for lookups.
func (t *Trie) Add(id int, text string) {
	cur := t.root
	cur.tokens[id] = struct{}{}
	if text == "" {
		return
	}

	for i := 0; i < len(text); {
		r, size := nextKey(text[i:])
		i += size
		next, ok := cur.children[r]
		if !ok {
			next = newNode()
			cur.children[r] = next
			t.nodes++
		}
		next.tokens[id] = struct{}{}
		cur = next
	}

	for _, existing := range cur.ending {
		if existing == id {
			return
		}
	}
	cur.ending = append(cur.ending, id)
}

// find walks prefix and returns the node it ends on, or nil.
func (t *Trie) find(prefix string) *node {
	cur := t.root
	for i := 0; i < len(prefix); {
		r, size := nextKey(prefix[i:])
		i += size
		next, ok := cur.children[r]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// nextKey returns the child key for the start of s and its width in bytes.
// Invalid bytes get negative keys of their own, so they never collide with
// each other or with a literal U+FFFD.
func nextKey(s string) (rune, int) {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size == 1 {
		return -1 - rune(s[0]), 1
	}
	return r, size
}

// WithPrefix returns the ids of every token whose text starts with prefix.
// The empty prefix matches every added token.
func (t *Trie) WithPrefix(prefix string) IDSet {
	n := t.find(prefix)
	if n == nil {
		return IDSet{}
	}
	return IDSet{m: n.tokens}
}

// PrefixesOf returns the ids of tokens whose full, non-empty text is a proper
// prefix of s. These are tokens that consume part of s without covering it.
func (t *Trie) PrefixesOf(s string) IDSet {
	out := make(map[int]struct{})
	cur := t.root
	// The last character is excluded: a token ending there covers s
	// completely and is already reported by WithPrefix.
	for i := 0; i < len(s); {
		r, size := nextKey(s[i:])
		i += size
		if i == len(s) {
			break
		}
		next, ok := cur.children[r]
		if !ok {
			break
		}
		cur = next
		for _, id := range cur.ending {
			out[id] = struct{}{}
		}
	}
	if len(out) == 0 {
		return IDSet{}
	}
	return IDSet{m: out}
}

// LongestMatch returns the token whose text is the longest prefix of s,
// together with that text's length in bytes of s. When several tokens share
// the text the one added first wins. An invalid byte counts as one byte.
func (t *Trie) LongestMatch(s string) (id, n int, ok bool) {
	cur := t.root
	for i := 0; i < len(s); {
		r, size := nextKey(s[i:])
		next, found := cur.children[r]
		if !found {
			break
		}
		cur = next
		i += size
		if len(cur.ending) > 0 {
			id, n, ok = cur.ending[0], i, true
		}
	}
	return id, n, ok
}

// Len returns the number of distinct token ids in the trie.
func (t *Trie) Len() int {
	return len(t.root.tokens)
}

// Size returns the number of nodes, root included.
func (t *Trie) Size() int {
	return t.nodes
}
