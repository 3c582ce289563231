package project

import (
	"math"
	"math/rand/v2"
	"strings"
)

var adjectives = []string{
	"ancient", "brave", "bright", "calm", "clever", "crisp", "curly", "eager",
	"fancy", "gentle", "giant", "happy", "hollow", "jolly", "kind", "lively",
	"lucky", "mellow", "misty", "noble", "odd", "proud", "quick", "quiet",
	"rapid", "rich", "round", "shiny", "silent", "silly", "smooth", "sunny",
	"swift", "tall", "tiny", "vivid", "warm", "wild", "witty", "young",
}

var nouns = []string{
	"apple", "badger", "beacon", "breeze", "canyon", "castle", "comet", "computer",
	"desert", "dolphin", "ember", "falcon", "forest", "garden", "glacier", "harbor",
	"island", "jungle", "kettle", "lantern", "meadow", "meteor", "mountain", "nebula",
	"ocean", "otter", "panda", "pebble", "planet", "river", "rocket", "sparrow",
	"summit", "thunder", "tiger", "valley", "violin", "window", "willow", "zephyr",
}

const (
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLen      = 5
)

// NewSlug returns a readable adjective-adjective-noun identifier followed by
// a short random suffix.
func NewSlug() string {
	first := adjectives[rand.IntN(len(adjectives))]
	second := adjectives[rand.IntN(len(adjectives))]
	for second == first {
		second = adjectives[rand.IntN(len(adjectives))]
	}
	suffix := make([]byte, suffixLen)
	for i := range suffix {
		suffix[i] = suffixAlphabet[rand.IntN(len(suffixAlphabet))]
	}
	return strings.Join([]string{first, second, nouns[rand.IntN(len(nouns))], string(suffix)}, "-")
}

// slugSpace is the number of distinct values NewSlug can return.
func slugSpace() float64 {
	a := float64(len(adjectives))
	return a * (a - 1) * float64(len(nouns)) * math.Pow(float64(len(suffixAlphabet)), suffixLen)
}
