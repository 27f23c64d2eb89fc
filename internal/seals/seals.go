// Package seals gives versions memorable names of the form
// adjective-noun-verb-adverb-hash8, e.g. swift-eagle-flies-high-447abe9b.
// The same version always gets the same name.
package seals

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"

	"github.com/javanhut/brokkr/internal/objects"
)

// Word lists for generating memorable names
var (
	adjectives = []string{
		"swift", "brave", "bold", "clever", "mighty", "gentle", "wise", "noble",
		"fierce", "calm", "bright", "dark", "ancient", "young", "strong", "quick",
		"silent", "loud", "warm", "cool", "sharp", "smooth", "rough", "soft",
		"hard", "light", "heavy", "deep", "shallow", "wide", "narrow", "tall",
		"short", "long", "round", "square", "curved", "straight", "twisted", "pure",
		"wild", "tame", "free", "bound", "open", "closed", "full", "empty",
		"rich", "simple", "complex", "clear", "misty", "bright", "dim", "vivid",
		"pale", "golden", "silver", "crystal", "iron", "steel", "stone", "wooden",
	}

	nouns = []string{
		"eagle", "mountain", "river", "falcon", "wolf", "bear", "storm", "thunder",
		"forest", "ocean", "phoenix", "dragon", "tiger", "lion", "hawk", "raven",
		"fox", "deer", "star", "moon", "sun", "comet", "galaxy", "planet",
		"valley", "peak", "canyon", "meadow", "grove", "spring", "waterfall", "lake",
		"island", "lighthouse", "castle", "tower", "bridge", "gate", "path", "road",
		"sword", "shield", "crown", "gem", "crystal", "flame", "spark", "ember",
		"wind", "wave", "stone", "tree", "flower", "rose", "oak", "pine",
		"marble", "granite", "diamond", "ruby", "sapphire", "emerald", "pearl", "gold",
	}

	verbs = []string{
		"flies", "runs", "leaps", "soars", "dives", "climbs", "swims", "hunts",
		"rests", "guards", "watches", "seeks", "finds", "builds", "grows", "shines",
		"glows", "moves", "stands", "waits", "rises", "falls", "turns", "spins",
		"flows", "burns", "melts", "freezes", "breaks", "heals", "creates", "destroys",
		"protects", "attacks", "defends", "conquers", "explores", "discovers", "reveals", "hides",
		"opens", "closes", "starts", "ends", "begins", "finishes", "travels", "arrives",
		"departs", "returns", "calls", "whispers", "sings", "roars", "echoes", "resonates",
		"reflects", "absorbs", "radiates", "pulsates", "vibrates", "oscillates", "rotates", "revolves",
	}

	adverbs = []string{
		"high", "fast", "slow", "well", "far", "near", "deep", "wide",
		"soft", "hard", "bright", "dark", "quiet", "loud", "free", "true",
		"bold", "wise", "swift", "strong", "gentle", "fierce", "calm", "wild",
		"proud", "humble", "grand", "small", "great", "tiny", "vast", "narrow",
		"smooth", "rough", "sharp", "dull", "clear", "misty", "warm", "cool",
		"hot", "cold", "dry", "wet", "fresh", "stale", "new", "old",
		"young", "ancient", "modern", "classic", "pure", "mixed", "simple", "complex",
		"easy", "hard", "light", "heavy", "quick", "slow", "early", "late",
	}
)

// Name returns the seal name of a version.
func Name(id objects.VersionID) string {
	r := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(id[:8]))))

	adj := adjectives[r.Intn(len(adjectives))]
	noun := nouns[r.Intn(len(nouns))]
	verb := verbs[r.Intn(len(verbs))]
	adv := adverbs[r.Intn(len(adverbs))]
	return fmt.Sprintf("%s-%s-%s-%s-%s", adj, noun, verb, adv, hex.EncodeToString(id[:4]))
}

// ShortHash extracts the 8-character hash suffix from a seal name. It is
// the prefix of the version ID the name was generated from.
func ShortHash(name string) (string, bool) {
	parts := strings.Split(name, "-")
	if len(parts) != 5 {
		return "", false
	}
	last := parts[len(parts)-1]
	if len(last) != 8 {
		return "", false
	}
	if _, err := hex.DecodeString(last); err != nil {
		return "", false
	}
	return last, true
}
